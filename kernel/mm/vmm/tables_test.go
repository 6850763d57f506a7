package vmm

import (
	"testing"
	"unsafe"

	"github.com/sierl/os/kernel/mm"
)

func TestDmapTableIOReadWrite(t *testing.T) {
	// A Go slice stands in for a page-table frame at a fake physical
	// address; the direct-map offset bridges the two address spaces.
	backing := make([]uint64, tableEntryCount)
	physBase := uintptr(0x5000)

	var dm mm.DirectMap
	dm.Init(uintptr(unsafe.Pointer(&backing[0])) - physBase)

	tio := dmapTableIO{dm: &dm}
	table := mm.FrameFromAddress(physBase)

	var entry Entry
	entry.SetFrame(mm.Frame(0x300))
	entry.SetFlags(FlagPresent | FlagRW)

	tio.writeEntry(table, 42, entry)

	if got := Entry(backing[42]); got != entry {
		t.Fatalf("expected writeEntry to store %x at index 42; got %x", uint64(entry), uint64(got))
	}
	if got := tio.readEntry(table, 42); got != entry {
		t.Fatalf("expected readEntry to return %x; got %x", uint64(entry), uint64(got))
	}
	if got := tio.readEntry(table, 43); got != 0 {
		t.Fatalf("expected the adjacent entry to stay untouched; got %x", uint64(got))
	}
}

func TestDmapTableIOActivate(t *testing.T) {
	defer func(origSwitchPageTable func(uintptr)) {
		switchPageTableFn = origSwitchPageTable
	}(switchPageTableFn)

	var installedRoot uintptr
	switchPageTableFn = func(rootPhysAddr uintptr) { installedRoot = rootPhysAddr }

	var dm mm.DirectMap
	tio := dmapTableIO{dm: &dm}
	tio.activate(mm.Frame(0xf00))

	if exp := uintptr(0xf00000); installedRoot != exp {
		t.Fatalf("expected the root's physical address %x to be installed; got %x", exp, installedRoot)
	}
}

func TestKernelRootFrame(t *testing.T) {
	defer func(origKernelAddress func() (uintptr, uintptr)) {
		kernelAddressFn = origKernelAddress
	}(kernelAddressFn)

	// With physBase == virtBase the frame address equals the aligned store
	// address, which makes the alignment math directly checkable.
	kernelAddressFn = func() (uintptr, uintptr) { return 0, 0 }

	frame := kernelRootFrame()
	got := frame.Address()

	if got&(mm.PageSize-1) != 0 {
		t.Fatalf("expected the root frame address to be page-aligned; got %x", got)
	}

	storeStart := uintptr(unsafe.Pointer(&rootTableStore[0]))
	if got < storeStart || got+mm.PageSize > storeStart+uintptr(len(rootTableStore)) {
		t.Fatalf("expected the aligned page to fall inside the reserved store; got %x (store at %x)", got, storeStart)
	}
}
