// Package cpu provides thin wrappers over the amd64 privileged instructions
// that the memory subsystem depends on. The actual instruction sequences live
// in cpu_amd64.s.
package cpu

// Halt disables interrupts and stops instruction execution.
func Halt()

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPageTable installs the page table tree whose root is located at
// rootPhysAddr as the active translation root and flushes the TLB. The very
// next instruction fetch is resolved through the new tree so the caller must
// guarantee that the kernel's own code and data are mapped by it.
func SwitchPageTable(rootPhysAddr uintptr)

// ActivePageTable returns the physical address of the root of the currently
// active page table tree.
func ActivePageTable() uintptr
