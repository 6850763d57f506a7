package mm

// DirectMap performs pure, reversible arithmetic between physical addresses
// and the kernel virtual addresses inside the bootloader-supplied linear
// mapping of physical memory.
type DirectMap struct {
	offset uintptr
}

// Init records the direct-map offset handed over by the bootloader. It must
// be called before any translation call; translating through an
// uninitialized DirectMap is undefined behavior, not a recoverable error.
func (dm *DirectMap) Init(offset uintptr) {
	dm.offset = offset
}

// PhysToVirt returns the virtual address through which physAddr can be
// accessed inside the direct map.
func (dm *DirectMap) PhysToVirt(physAddr uintptr) uintptr {
	return physAddr + dm.offset
}

// VirtToPhys returns the physical address that backs a direct-mapped virtual
// address. It is the exact inverse of PhysToVirt.
func (dm *DirectMap) VirtToPhys(virtAddr uintptr) uintptr {
	return virtAddr - dm.offset
}

// kernelDirectMap is the translator for the kernel's own direct map. Its
// offset is captured once during bootstrap and never changes for the
// remaining kernel uptime.
var kernelDirectMap DirectMap

// InitDirectMap captures the bootloader-supplied direct-map offset into the
// kernel's translator and returns it so that the bootstrap sequence can
// thread it through the allocator and mapper explicitly.
func InitDirectMap(offset uintptr) *DirectMap {
	kernelDirectMap.Init(offset)
	return &kernelDirectMap
}

// PhysToVirt translates a physical address through the kernel's direct map.
func PhysToVirt(physAddr uintptr) uintptr { return kernelDirectMap.PhysToVirt(physAddr) }

// VirtToPhys translates a direct-mapped virtual address back to its physical
// address.
func VirtToPhys(virtAddr uintptr) uintptr { return kernelDirectMap.VirtToPhys(virtAddr) }
