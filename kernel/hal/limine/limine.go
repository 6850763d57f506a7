// Package limine exposes the boot information handed over by a Limine-style
// bootloader. The rt0 code gathers the bootloader responses into a packed
// boot-information block and passes its address to the kernel; this package
// decodes that block and serves it to the rest of the kernel.
//
// The block uses the following layout (all fields little-endian uint64):
//
//	offset  0: direct map offset (higher-half base of the linear mapping)
//	offset  8: kernel physical base address
//	offset 16: kernel virtual base address
//	offset 24: memory map entry count
//	offset 32: entry count * {base, length, kind}
package limine

import "unsafe"

// RegionKind describes the type of a memory map region. The values match the
// memory map entry types of the Limine boot protocol.
type RegionKind uint64

const (
	// RegionUsable indicates memory that is free for kernel use. Usable
	// regions are guaranteed to be page-aligned and to not overlap any
	// other region.
	RegionUsable RegionKind = iota

	// RegionReserved indicates memory that must not be touched.
	RegionReserved

	// RegionAcpiReclaimable indicates memory holding ACPI tables that can
	// be reclaimed once the tables have been consumed.
	RegionAcpiReclaimable

	// RegionAcpiNvs indicates memory that must be preserved when hibernating.
	RegionAcpiNvs

	// RegionBadMemory indicates memory reported as faulty.
	RegionBadMemory

	// RegionBootloaderReclaimable indicates memory holding bootloader
	// structures (this block included) that can be reclaimed once the
	// kernel no longer needs them.
	RegionBootloaderReclaimable

	// RegionKernelAndModules indicates memory backing the kernel image and
	// any loaded modules.
	RegionKernelAndModules

	// RegionFramebuffer indicates memory backing the framebuffer.
	RegionFramebuffer

	// Any value >= regionKindCount decodes as RegionReserved.
	regionKindCount
)

// String implements fmt.Stringer for RegionKind.
func (k RegionKind) String() string {
	switch k {
	case RegionUsable:
		return "usable"
	case RegionAcpiReclaimable:
		return "ACPI (reclaimable)"
	case RegionAcpiNvs:
		return "ACPI (NVS)"
	case RegionBadMemory:
		return "bad memory"
	case RegionBootloaderReclaimable:
		return "bootloader (reclaimable)"
	case RegionKernelAndModules:
		return "kernel/modules"
	case RegionFramebuffer:
		return "framebuffer"
	default:
		return "reserved"
	}
}

// MemRegion describes a physical memory region reported by the bootloader,
// namely its physical base address, its length in bytes and its kind.
type MemRegion struct {
	Base   uint64
	Length uint64
	Kind   RegionKind
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the bootloader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(region *MemRegion) bool

const (
	directMapOffsetOffset = 0
	kernelPhysBaseOffset  = 8
	kernelVirtBaseOffset  = 16
	regionCountOffset     = 24
	regionListOffset      = 32
	regionEntrySize       = 24
)

var infoData uintptr

// SetBootInfoPtr updates the internal boot-information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetBootInfoPtr(ptr uintptr) {
	infoData = ptr
}

// DirectMapOffset returns the linear offset at which the bootloader mapped
// the whole of physical memory into the kernel's virtual address space.
func DirectMapOffset() uintptr {
	return uintptr(readUint64(directMapOffsetOffset))
}

// KernelAddress returns the physical and virtual base addresses at which the
// bootloader loaded the kernel image.
func KernelAddress() (physBase, virtBase uintptr) {
	return uintptr(readUint64(kernelPhysBaseOffset)), uintptr(readUint64(kernelVirtBaseOffset))
}

// VisitMemRegions invokes the supplied visitor for each memory region in the
// boot-information block, in the order reported by the bootloader. Regions
// with an unknown kind are presented as RegionReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	count := readUint64(regionCountOffset)

	for i := uint64(0); i < count; i++ {
		region := *(*MemRegion)(unsafe.Pointer(infoData + regionListOffset + uintptr(i)*regionEntrySize))
		if region.Kind >= regionKindCount {
			region.Kind = RegionReserved
		}

		if !visitor(&region) {
			return
		}
	}
}

func readUint64(offset uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(infoData + offset))
}
