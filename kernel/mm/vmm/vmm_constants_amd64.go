package vmm

const (
	// pageLevels indicates the number of page-table levels supported by the
	// amd64 architecture.
	pageLevels = 4

	// tableEntryCount is the number of entries in a page table at every
	// level. Each level consumes 9 bits of the virtual address.
	tableEntryCount = 512

	// ptePhysPageMask is a mask that allows us to extract the physical
	// memory address pointed to by a page table entry. For this particular
	// architecture, bits 12-51 contain the physical memory address.
	ptePhysPageMask = uint64(0x000ffffffffff000)
)

// pageLevelShifts defines the shift required to extract the table index for
// each page level from a virtual address.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}
