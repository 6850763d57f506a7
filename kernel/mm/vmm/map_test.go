package vmm

import (
	"testing"

	"github.com/sierl/os/kernel"
	"github.com/sierl/os/kernel/mm"
)

// fakeTableIO keeps page tables in a map so the walking logic can be
// exercised without touching real memory or CR3.
type fakeTableIO struct {
	tables      map[mm.Frame]*[tableEntryCount]Entry
	activations []mm.Frame
}

func newFakeTableIO() *fakeTableIO {
	return &fakeTableIO{tables: make(map[mm.Frame]*[tableEntryCount]Entry)}
}

func (tio *fakeTableIO) table(frame mm.Frame) *[tableEntryCount]Entry {
	table, exists := tio.tables[frame]
	if !exists {
		table = new([tableEntryCount]Entry)
		tio.tables[frame] = table
	}
	return table
}

func (tio *fakeTableIO) readEntry(table mm.Frame, index uint) Entry {
	return tio.table(table)[index]
}

func (tio *fakeTableIO) writeEntry(table mm.Frame, index uint, entry Entry) {
	tio.table(table)[index] = entry
}

func (tio *fakeTableIO) activate(root mm.Frame) {
	tio.activations = append(tio.activations, root)
}

// walkTo follows the present entries for virtAddr and returns the leaf
// entry, failing the test if any level along the walk is missing.
func (tio *fakeTableIO) walkTo(t *testing.T, root mm.Frame, virtAddr uintptr) Entry {
	t.Helper()

	table := root
	var entry Entry
	for level := 0; level < pageLevels; level++ {
		entry = tio.table(table)[entryIndex(virtAddr, level)]
		if !entry.HasFlags(FlagPresent) {
			t.Fatalf("walk for %x: entry at level %d is not present", virtAddr, level)
		}
		table = entry.Frame()
	}
	return entry
}

// countingAllocator hands out consecutive table frames and can be armed to
// fail after a fixed number of allocations.
type countingAllocator struct {
	next      mm.Frame
	allocated int
	freed     []mm.Frame
	failAfter int // fail once this many allocations have been served; -1 never
	err       *kernel.Error
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{
		next:      mm.Frame(0x1000),
		failAfter: -1,
		err:       &kernel.Error{Module: "test", Message: "out of memory"},
	}
}

func (a *countingAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if a.failAfter >= 0 && a.allocated >= a.failAfter {
		return mm.InvalidFrame, a.err
	}
	frame := a.next
	a.next++
	a.allocated++
	return frame, nil
}

func (a *countingAllocator) FreeFrame(frame mm.Frame) { a.freed = append(a.freed, frame) }

func newTestSpace() (*AddressSpace, *fakeTableIO, *countingAllocator) {
	tio := newFakeTableIO()
	alloc := newCountingAllocator()

	var as AddressSpace
	as.init(mm.Frame(0xf), tio, alloc)
	return &as, tio, alloc
}

func TestMapSingleMisalignedAddresses(t *testing.T) {
	as, _, alloc := newTestSpace()
	attr := Attributes{Kernel: true, Writable: true, Cachable: true}

	if err := as.MapSingle(0x200123, 0x300000, attr); err != mm.ErrMisalignedAddress {
		t.Fatalf("expected ErrMisalignedAddress for a misaligned virtual address; got %v", err)
	}
	if err := as.MapSingle(0x200000, 0x300fff, attr); err != mm.ErrMisalignedAddress {
		t.Fatalf("expected ErrMisalignedAddress for a misaligned physical address; got %v", err)
	}
	if alloc.allocated != 0 {
		t.Fatalf("expected no frames to be allocated for rejected requests; got %d", alloc.allocated)
	}
}

func TestMapSingleBuildsIntermediateLevels(t *testing.T) {
	as, tio, alloc := newTestSpace()
	attr := Attributes{Kernel: true, Writable: true, Cachable: true}

	if err := as.MapSingle(0x200000, 0x300000, attr); err != nil {
		t.Fatal(err)
	}

	// A walk through an empty tree must create one table per intermediate
	// level.
	if exp := pageLevels - 1; alloc.allocated != exp {
		t.Fatalf("expected %d intermediate tables to be allocated; got %d", exp, alloc.allocated)
	}

	leaf := tio.walkTo(t, as.root, 0x200000)
	if got := leaf.Frame(); got != mm.FrameFromAddress(0x300000) {
		t.Fatalf("expected leaf to reference frame %x; got %x", uintptr(mm.FrameFromAddress(0x300000)), uintptr(got))
	}
}

func TestMapSingleIdempotent(t *testing.T) {
	as, tio, alloc := newTestSpace()
	attr := Attributes{Kernel: true, Writable: true, Cachable: true}

	if err := as.MapSingle(0x200000, 0x300000, attr); err != nil {
		t.Fatal(err)
	}
	allocsAfterFirst := alloc.allocated

	if err := as.MapSingle(0x200000, 0x300000, attr); err != nil {
		t.Fatal(err)
	}

	if alloc.allocated != allocsAfterFirst {
		t.Fatalf("expected an identical repeated mapping to allocate no further tables; got %d new allocations", alloc.allocated-allocsAfterFirst)
	}

	leaf := tio.walkTo(t, as.root, 0x200000)
	if got := leaf.Frame(); got != mm.FrameFromAddress(0x300000) {
		t.Fatalf("expected one leaf entry referencing frame %x; got %x", uintptr(mm.FrameFromAddress(0x300000)), uintptr(got))
	}
}

func TestMapSingleOverwritesExistingLeaf(t *testing.T) {
	as, tio, _ := newTestSpace()
	attr := Attributes{Kernel: true, Writable: true, Cachable: true}

	if err := as.MapSingle(0x200000, 0x300000, attr); err != nil {
		t.Fatal(err)
	}
	if err := as.MapSingle(0x200000, 0x400000, attr); err != nil {
		t.Fatal(err)
	}

	leaf := tio.walkTo(t, as.root, 0x200000)
	if got := leaf.Frame(); got != mm.FrameFromAddress(0x400000) {
		t.Fatalf("expected remap to overwrite the leaf with frame %x; got %x", uintptr(mm.FrameFromAddress(0x400000)), uintptr(got))
	}
}

func TestMapSingleIntermediateAttributeStickiness(t *testing.T) {
	as, tio, _ := newTestSpace()

	// The first mapping through a table decides its attribute bits.
	if err := as.MapSingle(0x200000, 0x300000, Attributes{Kernel: true, Writable: true, Cachable: true}); err != nil {
		t.Fatal(err)
	}

	// A second, read-only mapping through the same intermediate tables must
	// not retract the RW bit already granted at the intermediate levels.
	if err := as.MapSingle(0x201000, 0x301000, Attributes{Kernel: true, Writable: false, Cachable: true}); err != nil {
		t.Fatal(err)
	}

	rootEntry := tio.table(as.root)[entryIndex(0x200000, 0)]
	if !rootEntry.HasFlags(FlagPresent | FlagRW) {
		t.Error("expected the intermediate entry to keep the RW bit of the mapping that created it")
	}

	leaf := tio.walkTo(t, as.root, 0x201000)
	if leaf.HasAnyFlag(FlagRW) {
		t.Error("expected the second leaf to be read-only")
	}
}

func TestMapSingleOutOfMemory(t *testing.T) {
	as, tio, alloc := newTestSpace()
	attr := Attributes{Kernel: true, Writable: true, Cachable: true}

	alloc.failAfter = 1
	err := as.MapSingle(0x200000, 0x300000, attr)
	if err != alloc.err {
		t.Fatalf("expected the allocator error to propagate; got %v", err)
	}

	// The level built before the failure stays in place as a valid, empty
	// table.
	rootEntry := tio.table(as.root)[entryIndex(0x200000, 0)]
	if !rootEntry.HasFlags(FlagPresent) {
		t.Error("expected the level built before the failure to remain present")
	}

	childTable := tio.table(rootEntry.Frame())
	for index, entry := range childTable {
		if entry != 0 {
			t.Fatalf("expected the partially built table to be empty; entry %d is %x", index, uint64(entry))
		}
	}
}

func TestMapRangeValidation(t *testing.T) {
	attr := Attributes{Kernel: true, Writable: true, Cachable: true}

	specs := []struct {
		descr                                  string
		virtStart, virtEnd, physStart, physEnd uintptr
		expErr                                 *kernel.Error
	}{
		{"misaligned virt start", 0x200001, 0x201000, 0x300000, 0x301000, mm.ErrMisalignedAddress},
		{"misaligned virt end", 0x200000, 0x201100, 0x300000, 0x301000, mm.ErrMisalignedAddress},
		{"misaligned phys start", 0x200000, 0x201000, 0x300010, 0x301000, mm.ErrMisalignedAddress},
		{"misaligned phys end", 0x200000, 0x201000, 0x300000, 0x301004, mm.ErrMisalignedAddress},
		{"empty virt range", 0x200000, 0x200000, 0x300000, 0x301000, ErrLengthMismatch},
		{"reversed virt range", 0x202000, 0x200000, 0x300000, 0x301000, ErrLengthMismatch},
		{"empty phys range", 0x200000, 0x201000, 0x300000, 0x300000, ErrLengthMismatch},
		{"length mismatch", 0x200000, 0x202000, 0x300000, 0x301000, ErrLengthMismatch},
	}

	for _, spec := range specs {
		as, _, alloc := newTestSpace()
		if err := as.MapRange(spec.virtStart, spec.virtEnd, spec.physStart, spec.physEnd, attr); err != spec.expErr {
			t.Errorf("[%s] expected error %v; got %v", spec.descr, spec.expErr, err)
		}
		if alloc.allocated != 0 {
			t.Errorf("[%s] expected no allocations for a rejected range", spec.descr)
		}
	}
}

func TestMapRangeLeafBits(t *testing.T) {
	as, tio, _ := newTestSpace()

	err := as.MapRange(0x200000, 0x201000, 0x300000, 0x301000, Attributes{Kernel: true, Writable: true, Cachable: true})
	if err != nil {
		t.Fatal(err)
	}

	leaf := tio.walkTo(t, as.root, 0x200000)
	if !leaf.HasFlags(FlagPresent | FlagRW) {
		t.Error("expected the leaf to have Present and RW set")
	}
	if leaf.HasAnyFlag(FlagUserAccessible) {
		t.Error("expected a kernel mapping to have the user bit clear")
	}
	if leaf.HasAnyFlag(FlagDoNotCache) {
		t.Error("expected a cachable mapping to have the cache-disable bit clear")
	}
	if got := leaf.Frame(); got != mm.FrameFromAddress(0x300000) {
		t.Errorf("expected leaf frame field to be %x; got %x", uintptr(0x300), uintptr(got))
	}
}

func TestMapRangeMapsEveryPage(t *testing.T) {
	as, tio, _ := newTestSpace()
	attr := Attributes{Kernel: true, Writable: true, Cachable: true}

	if err := as.MapRange(0x200000, 0x204000, 0x300000, 0x304000, attr); err != nil {
		t.Fatal(err)
	}

	for offset := uintptr(0); offset < 0x4000; offset += mm.PageSize {
		leaf := tio.walkTo(t, as.root, 0x200000+offset)
		if exp, got := mm.FrameFromAddress(0x300000+offset), leaf.Frame(); got != exp {
			t.Errorf("expected page at %x to map frame %x; got %x", 0x200000+offset, uintptr(exp), uintptr(got))
		}
	}
}

func TestTranslate(t *testing.T) {
	as, _, _ := newTestSpace()
	attr := Attributes{Kernel: true, Writable: true, Cachable: true}

	if _, err := as.Translate(0x200000); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped before any mapping exists; got %v", err)
	}

	if err := as.MapSingle(0x200000, 0x300000, attr); err != nil {
		t.Fatal(err)
	}

	got, err := as.Translate(0x200123)
	if err != nil {
		t.Fatal(err)
	}
	if exp := uintptr(0x300123); got != exp {
		t.Fatalf("expected translation %x; got %x", exp, got)
	}
}

func TestActivateFiresAtMostOnce(t *testing.T) {
	as, tio, _ := newTestSpace()

	as.Activate()
	as.Activate()

	if len(tio.activations) != 1 {
		t.Fatalf("expected exactly one activation; got %d", len(tio.activations))
	}
	if tio.activations[0] != as.root {
		t.Fatalf("expected the root frame %x to be installed; got %x", uintptr(as.root), uintptr(tio.activations[0]))
	}
}
