// Package mm provides the base types shared by the physical and virtual
// memory managers: frame and page indices, the direct-map address translator
// and the frame allocator registration point.
package mm

import (
	"math"

	"github.com/sierl/os/kernel"
)

// ErrMisalignedAddress is returned by any operation that receives an address
// which is not a multiple of PageSize.
var ErrMisalignedAddress = &kernel.Error{Module: "mm", Message: "address is not page-aligned"}

// Frame describes a physical memory page index.
type Frame uintptr

// InvalidFrame is returned by frame allocators when they fail to reserve the
// requested frame. It also serves as the free-list terminator.
const InvalidFrame = Frame(math.MaxUint64)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not frame-aligned are rounded down to the
// frame that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down to the page that
// contains them.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

// PageAligned returns true if addr is a multiple of PageSize.
func PageAligned(addr uintptr) bool {
	return addr&(PageSize-1) == 0
}

// FrameAllocator is implemented by physical frame allocators. AllocFrame
// reserves a free frame and FreeFrame returns a previously allocated frame
// back to the pool. Freeing a frame that is already free is an unchecked
// precondition violation.
type FrameAllocator interface {
	AllocFrame() (Frame, *kernel.Error)
	FreeFrame(Frame)
}

// frameAllocator points to the frame allocator registered via
// SetFrameAllocator.
var frameAllocator FrameAllocator

// SetFrameAllocator registers the frame allocator instance that will be used
// by the vmm code and by the AllocPage/FreePage calls exposed to the rest of
// the kernel.
func SetFrameAllocator(alloc FrameAllocator) { frameAllocator = alloc }

// AllocFrame allocates a new physical frame using the currently registered
// frame allocator.
func AllocFrame() (Frame, *kernel.Error) { return frameAllocator.AllocFrame() }

// AllocPage allocates a new physical frame and returns its physical address.
func AllocPage() (uintptr, *kernel.Error) {
	frame, err := frameAllocator.AllocFrame()
	if err != nil {
		return 0, err
	}
	return frame.Address(), nil
}

// FreePage returns the frame at the supplied physical address back to the
// pool of the currently registered frame allocator. The address must be
// frame-aligned.
func FreePage(physAddr uintptr) *kernel.Error {
	if !PageAligned(physAddr) {
		return ErrMisalignedAddress
	}
	frameAllocator.FreeFrame(FrameFromAddress(physAddr))
	return nil
}
