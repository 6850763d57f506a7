package kmain

import (
	"github.com/sierl/os/kernel"
	"github.com/sierl/os/kernel/hal/limine"
	"github.com/sierl/os/kernel/kfmt"
	"github.com/sierl/os/kernel/mm"
	"github.com/sierl/os/kernel/mm/pmm"
	"github.com/sierl/os/kernel/mm/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code passes the address of the boot-information
// block that it assembled from the bootloader responses.
//
// The initialization order below is a hard contract: the bootloader's direct
// map must be decoded before the frame allocator can poison frames through
// it, the allocator must be seeded before the page-table manager can request
// table frames, and the kernel's own tables must fully cover physical memory
// before they are activated.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(bootInfoPtr uintptr) {
	limine.SetBootInfoPtr(bootInfoPtr)

	dm := mm.InitDirectMap(limine.DirectMapOffset())
	pmm.Init(dm)

	space := vmm.KernelAddressSpace(dm, pmm.Allocator())
	if err := vmm.BuildDirectMap(space, dm); err != nil {
		kfmt.Panic(err)
	}
	space.Activate()

	kfmt.Printf("[kmain] memory management online\n")

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
