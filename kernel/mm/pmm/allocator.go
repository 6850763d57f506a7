// Package pmm implements the kernel's physical frame allocator: a single
// uniform pool of 4Kb frames managed through a singly linked free list that
// is seeded from the bootloader memory map.
package pmm

import (
	"github.com/sierl/os/kernel"
	"github.com/sierl/os/kernel/hal/limine"
	"github.com/sierl/os/kernel/kfmt"
	"github.com/sierl/os/kernel/mm"
)

var (
	// ErrOutOfMemory is returned by AllocFrame when the free list has been
	// exhausted.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

	// memsetFn is mocked by tests and is automatically inlined by the compiler.
	memsetFn = kernel.Memset

	// visitMemRegionsFn is mocked by tests and is automatically inlined by
	// the compiler.
	visitMemRegionsFn = limine.VisitMemRegions
)

const (
	// allocPoisonPattern fills every frame handed out by AllocFrame so that
	// reads of uninitialized frame contents stand out in a debugger.
	allocPoisonPattern = 0xaa

	// freePoisonPattern fills every frame returned via FreeFrame so that
	// use-after-free bugs can be told apart from uninitialized reads.
	freePoisonPattern = 0xde
)

// ListAllocator manages the pool of free physical frames. The free list is
// kept as a link table indexed by frame number instead of storing the links
// inside the free frames themselves; this costs one word of bookkeeping per
// managed frame but means free memory is never reinterpreted as structured
// data. Frame contents are only ever touched to write the poison patterns.
//
// The allocator performs no locking: the kernel owns a single hardware
// thread and this subsystem is not safe to use from a second execution
// context without external mutual exclusion.
type ListAllocator struct {
	// dm translates frame addresses to the direct-mapped virtual addresses
	// used when poisoning frame contents.
	dm *mm.DirectMap

	// links holds one forward link per frame in the managed span
	// [base, base+len(links)). A link is only meaningful while its frame is
	// on the free list; InvalidFrame terminates the list.
	links []mm.Frame

	// base is the frame number that links[0] corresponds to.
	base mm.Frame

	// head is the frame popped by the next AllocFrame, or InvalidFrame
	// when the pool is empty.
	head mm.Frame

	totalFrames uint64
	freeFrames  uint64
}

// Init seeds the free list with every frame contained in a usable region of
// the bootloader memory map. The bootloader guarantees that usable regions
// are frame-aligned and do not overlap any reserved region. The order in
// which frames are pushed is an implementation detail: regions are visited
// in map order and frames within a region in increasing address order, so
// the most recently pushed (highest) frame is allocated first.
//
// Init must complete before the first page-table call; table construction
// allocates its frames through this allocator.
func (alloc *ListAllocator) Init(dm *mm.DirectMap) {
	alloc.dm = dm
	alloc.head = mm.InvalidFrame

	// Pass 1: establish the span of frame numbers covered by usable memory.
	var (
		minFrame = mm.InvalidFrame
		maxFrame mm.Frame
	)
	visitMemRegionsFn(func(region *limine.MemRegion) bool {
		if region.Kind != limine.RegionUsable || region.Length == 0 {
			return true
		}

		regionStart := mm.FrameFromAddress(uintptr(region.Base))
		regionEnd := mm.FrameFromAddress(uintptr(region.Base+region.Length)) - 1
		if minFrame == mm.InvalidFrame || regionStart < minFrame {
			minFrame = regionStart
		}
		if regionEnd > maxFrame {
			maxFrame = regionEnd
		}
		return true
	})

	if minFrame == mm.InvalidFrame {
		return
	}

	alloc.base = minFrame
	alloc.links = make([]mm.Frame, maxFrame-minFrame+1)

	// Pass 2: push each usable frame onto the free list head.
	visitMemRegionsFn(func(region *limine.MemRegion) bool {
		if region.Kind != limine.RegionUsable || region.Length == 0 {
			return true
		}

		frame := mm.FrameFromAddress(uintptr(region.Base))
		frameCount := mm.Frame(uintptr(region.Length) >> mm.PageShift)
		for last := frame + frameCount; frame < last; frame++ {
			alloc.links[frame-alloc.base] = alloc.head
			alloc.head = frame
			alloc.totalFrames++
		}
		return true
	})

	alloc.freeFrames = alloc.totalFrames
}

// AllocFrame reserves the frame at the head of the free list and returns it
// after filling its contents with the allocation poison pattern. AllocFrame
// operates in O(1) and returns ErrOutOfMemory once every usable frame has
// been handed out.
func (alloc *ListAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if alloc.head == mm.InvalidFrame {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	frame := alloc.head
	alloc.head = alloc.links[frame-alloc.base]
	alloc.links[frame-alloc.base] = mm.InvalidFrame
	alloc.freeFrames--

	memsetFn(alloc.dm.PhysToVirt(frame.Address()), allocPoisonPattern, mm.PageSize)
	return frame, nil
}

// FreeFrame pushes a previously allocated frame back onto the free list head
// after filling its contents with the free poison pattern. FreeFrame
// operates in O(1). Returning a frame that is already free corrupts the list
// and is an unchecked precondition violation.
func (alloc *ListAllocator) FreeFrame(frame mm.Frame) {
	memsetFn(alloc.dm.PhysToVirt(frame.Address()), freePoisonPattern, mm.PageSize)

	alloc.links[frame-alloc.base] = alloc.head
	alloc.head = frame
	alloc.freeFrames++
}

// TotalFrames returns the number of usable frames established at Init time.
// The free list never grows beyond this count.
func (alloc *ListAllocator) TotalFrames() uint64 { return alloc.totalFrames }

// FreeFrames returns the number of frames currently on the free list.
func (alloc *ListAllocator) FreeFrames() uint64 { return alloc.freeFrames }

// kernelAllocator is the frame allocator for the kernel's own pool. It is
// initialized once during bootstrap and lives for the remaining kernel
// uptime.
var kernelAllocator ListAllocator

// Init prints the system memory map, seeds the kernel frame allocator from
// it and registers the allocator with the mm package.
func Init(dm *mm.DirectMap) {
	printMemoryMap()

	kernelAllocator.Init(dm)
	kfmt.Printf("[pmm] free list seeded with %d frames (%dKb)\n",
		kernelAllocator.totalFrames,
		kernelAllocator.totalFrames<<mm.PageShift>>10,
	)

	mm.SetFrameAllocator(&kernelAllocator)
}

// Allocator returns the kernel's frame allocator so the bootstrap sequence
// can thread it into the page-table manager explicitly.
func Allocator() *ListAllocator { return &kernelAllocator }

// printMemoryMap prints the memory region information provided by the
// bootloader.
func printMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")

	var totalUsable uint64
	visitMemRegionsFn(func(region *limine.MemRegion) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			region.Base, region.Base+region.Length, region.Length, region.Kind.String())

		if region.Kind == limine.RegionUsable {
			totalUsable += region.Length
		}
		return true
	})

	kfmt.Printf("[pmm] usable memory: %dKb\n", totalUsable>>10)
}
