package vmm

import "github.com/sierl/os/kernel/mm"

// EntryFlag describes a flag that can be applied to a page table entry.
type EntryFlag uint64

const (
	// FlagPresent is set when the entry references a frame or a child
	// table that is available in memory.
	FlagPresent EntryFlag = 1 << iota

	// FlagRW is set if the memory reached through this entry can be
	// written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access the memory
	// reached through this entry. If not set only kernel code can.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching when cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents the memory reached through this entry from
	// being cached when set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when the entry is used for a
	// translation.
	FlagAccessed
)

// Entry describes a 64-bit page table entry: a frame-aligned physical
// address in the high bits plus a set of flags. Entries are encoded and
// decoded with explicit bit arithmetic; the in-memory table layout is only
// touched by the tableIO implementations.
type Entry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte Entry) HasFlags(flags EntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte Entry) HasAnyFlag(flags EntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags on the page table entry.
func (pte *Entry) SetFlags(flags EntryFlag) {
	*pte = Entry(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *Entry) ClearFlags(flags EntryFlag) {
	*pte = Entry(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical frame that this entry points to.
func (pte Entry) Frame() mm.Frame {
	return mm.Frame((uint64(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the entry to point to the given physical frame.
func (pte *Entry) SetFrame(frame mm.Frame) {
	*pte = Entry((uint64(*pte) &^ ptePhysPageMask) | uint64(frame.Address()))
}

// Attributes describe the access attributes of a mapping request. The zero
// value requests a user-accessible, read-only, uncached mapping.
type Attributes struct {
	// Kernel restricts access to supervisor mode.
	Kernel bool

	// Writable allows stores through the mapping.
	Writable bool

	// Cachable allows the memory behind the mapping to be cached.
	Cachable bool
}

// flags returns the entry flag bits encoding attr. FlagPresent is not
// included; the mapper sets it when writing an entry.
func (attr Attributes) flags() EntryFlag {
	var flags EntryFlag
	if attr.Writable {
		flags |= FlagRW
	}
	if !attr.Kernel {
		flags |= FlagUserAccessible
	}
	if !attr.Cachable {
		flags |= FlagDoNotCache
	}
	return flags
}
