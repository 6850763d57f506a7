package vmm

import (
	"github.com/sierl/os/kernel"
	"github.com/sierl/os/kernel/hal/limine"
	"github.com/sierl/os/kernel/mm"
)

// visitMemRegionsFn is mocked by tests and is automatically inlined by the
// compiler.
var visitMemRegionsFn = limine.VisitMemRegions

// kernelSpace is the kernel's address space. It is declared as a global
// instead of being heap-allocated because it is initialized during early
// boot and lives for the remaining kernel uptime.
var kernelSpace AddressSpace

// KernelAddressSpace initializes the kernel address space around the
// statically reserved root table, wiring it to the supplied translator and
// frame allocator, and returns it. The allocator must be fully seeded before
// this call: zeroing the root happens through the direct map and every
// subsequent mapping call may allocate table frames.
func KernelAddressSpace(dm *mm.DirectMap, alloc mm.FrameAllocator) *AddressSpace {
	kernelSpace.init(kernelRootFrame(), dmapTableIO{dm: dm}, alloc)
	return &kernelSpace
}

// BuildDirectMap populates as with a linear (offset-based) mapping covering
// physical memory from 0 up to the highest address referenced by any memory
// map entry, using kernel/writable/cachable attributes. It relies on, but
// does not verify, that the bootloader's own mapping of the kernel's running
// code agrees with the newly built tables.
func BuildDirectMap(as *AddressSpace, dm *mm.DirectMap) *kernel.Error {
	var maxPhys uint64
	visitMemRegionsFn(func(region *limine.MemRegion) bool {
		if end := region.Base + region.Length; end > maxPhys {
			maxPhys = end
		}
		return true
	})

	if maxPhys == 0 {
		return nil
	}

	// Round up so that regions with unaligned bounds (e.g. a framebuffer)
	// stay fully covered.
	maxPhysAddr := (uintptr(maxPhys) + mm.PageSize - 1) &^ (mm.PageSize - 1)

	attr := Attributes{Kernel: true, Writable: true, Cachable: true}
	return as.MapRange(dm.PhysToVirt(0), dm.PhysToVirt(maxPhysAddr), 0, maxPhysAddr, attr)
}
