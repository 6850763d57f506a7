// Package vmm implements the kernel's virtual memory manager: a mapper over
// the hardware 4-level page-table tree plus the bootstrap code that builds
// the kernel's direct map and installs it as the live translation root.
package vmm

import (
	"github.com/sierl/os/kernel"
	"github.com/sierl/os/kernel/mm"
)

var (
	// ErrLengthMismatch is returned by MapRange when the virtual and
	// physical ranges are degenerate or differ in length.
	ErrLengthMismatch = &kernel.Error{Module: "vmm", Message: "virtual and physical range lengths differ"}

	// ErrNotMapped is returned when trying to translate a virtual address
	// that is not covered by a present mapping.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// AddressSpace owns the root of a 4-level page-table tree. Mappings are
// built with frames obtained from the supplied allocator and installed into
// the live MMU by Activate. An AddressSpace performs no locking; it is only
// safe to use from a single execution context.
type AddressSpace struct {
	root      mm.Frame
	tio       tableIO
	alloc     mm.FrameAllocator
	activated bool
}

// init prepares the address space around the supplied root table frame and
// zero-fills the root so that every top-level entry starts out not-present.
func (as *AddressSpace) init(root mm.Frame, tio tableIO, alloc mm.FrameAllocator) {
	as.root = root
	as.tio = tio
	as.alloc = alloc
	as.activated = false
	as.clearTable(root)
}

// MapSingle establishes a mapping between a single virtual page and a single
// physical frame. Both addresses must be frame-aligned. Missing intermediate
// tables along the walk are allocated lazily and zero-filled entirely before
// being linked in.
//
// A table created by this call carries the attribute bits of this mapping
// request; a later mapping routed through the same table with stricter
// attributes does not retract the bits granted here.
//
// Remapping an already-present page silently overwrites the leaf entry and
// issues no translation-cache invalidation: remapping a live page is only
// safe if the caller flushes the stale translation itself.
func (as *AddressSpace) MapSingle(virtAddr, physAddr uintptr, attr Attributes) *kernel.Error {
	if !mm.PageAligned(virtAddr) || !mm.PageAligned(physAddr) {
		return mm.ErrMisalignedAddress
	}

	flags := FlagPresent | attr.flags()
	table := as.root

	for level := 0; level < pageLevels-1; level++ {
		index := entryIndex(virtAddr, level)
		entry := as.tio.readEntry(table, index)

		if !entry.HasFlags(FlagPresent) {
			tableFrame, err := as.alloc.AllocFrame()
			if err != nil {
				// Allocation is the only fallible step of building a
				// level so there is nothing to roll back here; tables
				// linked in for the levels above remain valid, empty
				// tables.
				return err
			}
			as.clearTable(tableFrame)

			entry = 0
			entry.SetFrame(tableFrame)
			entry.SetFlags(flags)
			as.tio.writeEntry(table, index, entry)
		}

		table = entry.Frame()
	}

	var leaf Entry
	leaf.SetFrame(mm.FrameFromAddress(physAddr))
	leaf.SetFlags(flags)
	as.tio.writeEntry(table, entryIndex(virtAddr, pageLevels-1), leaf)
	return nil
}

// MapRange establishes mappings from the virtual range [virtStart, virtEnd)
// to the physical range [physStart, physEnd). Both ranges must be non-empty,
// ordered, frame-aligned at all four bounds and of equal length; misaligned
// bounds are rejected with ErrMisalignedAddress and degenerate or unequal
// ranges with ErrLengthMismatch. Pages are mapped in increasing address
// order and identical repeated calls are idempotent.
func (as *AddressSpace) MapRange(virtStart, virtEnd, physStart, physEnd uintptr, attr Attributes) *kernel.Error {
	if !mm.PageAligned(virtStart) || !mm.PageAligned(virtEnd) ||
		!mm.PageAligned(physStart) || !mm.PageAligned(physEnd) {
		return mm.ErrMisalignedAddress
	}
	if virtStart >= virtEnd || physStart >= physEnd || virtEnd-virtStart != physEnd-physStart {
		return ErrLengthMismatch
	}

	for virtAddr, physAddr := virtStart, physStart; virtAddr < virtEnd; virtAddr, physAddr = virtAddr+mm.PageSize, physAddr+mm.PageSize {
		if err := as.MapSingle(virtAddr, physAddr, attr); err != nil {
			return err
		}
	}
	return nil
}

// Translate performs a software walk of the tree and returns the physical
// address that the supplied virtual address maps to, or ErrNotMapped if any
// level along the walk is not present.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	table := as.root

	var entry Entry
	for level := 0; level < pageLevels; level++ {
		entry = as.tio.readEntry(table, entryIndex(virtAddr, level))
		if !entry.HasFlags(FlagPresent) {
			return 0, ErrNotMapped
		}
		table = entry.Frame()
	}

	return entry.Frame().Address() + virtAddr&(mm.PageSize-1), nil
}

// Activate installs the physical address of the root table as the live
// hardware translation root. The transition is one-way and fires at most
// once; repeated calls are no-ops. Activate must only be called once the
// kernel's own code/data and the full direct-mapped physical range have
// been populated, because the very next instruction fetch is resolved
// through the new root.
func (as *AddressSpace) Activate() {
	if as.activated {
		return
	}
	as.tio.activate(as.root)
	as.activated = true
}

// clearTable zero-fills every entry of the supplied table frame.
func (as *AddressSpace) clearTable(table mm.Frame) {
	for index := uint(0); index < tableEntryCount; index++ {
		as.tio.writeEntry(table, index, 0)
	}
}

// entryIndex extracts the table index that virtAddr selects at the given
// page level.
func entryIndex(virtAddr uintptr, level int) uint {
	return uint(virtAddr>>pageLevelShifts[level]) & (tableEntryCount - 1)
}
