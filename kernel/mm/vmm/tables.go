package vmm

import (
	"unsafe"

	"github.com/sierl/os/kernel/cpu"
	"github.com/sierl/os/kernel/hal/limine"
	"github.com/sierl/os/kernel/mm"
)

var (
	// switchPageTableFn is mocked by tests which cannot touch CR3.
	switchPageTableFn = cpu.SwitchPageTable

	// kernelAddressFn is mocked by tests and is automatically inlined by
	// the compiler.
	kernelAddressFn = limine.KernelAddress
)

// tableIO provides access to page-table memory plus the control operation
// that installs a tree root into the MMU. The tree-walking logic only
// touches hardware through this interface, which keeps it portable and lets
// tests substitute an in-memory implementation.
type tableIO interface {
	readEntry(table mm.Frame, index uint) Entry
	writeEntry(table mm.Frame, index uint, entry Entry)
	activate(root mm.Frame)
}

// dmapTableIO accesses page-table frames through their direct-mapped virtual
// addresses and installs roots via the CR3 register.
type dmapTableIO struct {
	dm *mm.DirectMap
}

func (tio dmapTableIO) entryPtr(table mm.Frame, index uint) *uint64 {
	return (*uint64)(unsafe.Pointer(tio.dm.PhysToVirt(table.Address()) + uintptr(index)<<mm.PointerShift))
}

func (tio dmapTableIO) readEntry(table mm.Frame, index uint) Entry {
	return Entry(*tio.entryPtr(table, index))
}

func (tio dmapTableIO) writeEntry(table mm.Frame, index uint, entry Entry) {
	*tio.entryPtr(table, index) = uint64(entry)
}

func (tio dmapTableIO) activate(root mm.Frame) {
	switchPageTableFn(root.Address())
}

// rootTableStore statically reserves memory for the kernel's root page
// table for the life of the process; it is populated during bootstrap and
// never freed. Go provides no way to page-align a global, so the array is
// over-allocated and the aligned page inside it is used.
var rootTableStore [2*mm.PageSize - 1]byte

// kernelRootFrame returns the physical frame backing the page-aligned
// portion of rootTableStore. The frame's physical address is derived from
// the kernel image base addresses reported by the bootloader.
func kernelRootFrame() mm.Frame {
	alignedVirt := (uintptr(unsafe.Pointer(&rootTableStore[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)
	physBase, virtBase := kernelAddressFn()
	return mm.FrameFromAddress(alignedVirt - virtBase + physBase)
}
