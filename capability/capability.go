package capability

import (
	"fmt"
	"math"
)

// Capability is a bounded reference into a tagged address space. It carries a base address, a
// length, an offset relative to the base, and a validity tag. A capability can only be derived
// from another by narrowing: any derivation that would widen the bounds produces a capability
// with the tag cleared.
//
// Capabilities are plain values and are safe to copy. A tag-clear capability carries no
// addressing guarantee and must not be dereferenced.
type Capability struct {
	base   uint64
	offset uint64
	length uint64
	tag    bool
}

// New creates a tagged capability with offset 0 spanning [base, base+length)
func New(base, length uint64) Capability {
	return Capability{base: base, length: length, tag: true}
}

// FromWords reconstructs a capability from its in-memory representation. It is used by the
// address space when loading a capability granule, with the tag supplied by the shadow tag
// bitmap.
func FromWords(base, offset, length uint64, tag bool) Capability {
	return Capability{base: base, offset: offset, length: length, tag: tag}
}

// Unbounded returns the root capability that spans the entire address space
func Unbounded() Capability {
	return Capability{length: math.MaxUint64, tag: true}
}

// Base returns the lowest address the capability may reference
func (c Capability) Base() uint64 { return c.base }

// Offset returns the cursor of the capability, relative to Base
func (c Capability) Offset() uint64 { return c.offset }

// Length returns the number of bytes the capability may reference, starting at Base
func (c Capability) Length() uint64 { return c.length }

// Tag returns true if the capability is valid
func (c Capability) Tag() bool { return c.tag }

// Address returns the absolute address of the capability's cursor
func (c Capability) Address() uint64 { return c.base + c.offset }

// Top returns the first address past the end of the capability's bounds
func (c Capability) Top() uint64 {
	if c.length > math.MaxUint64-c.base {
		return math.MaxUint64
	}
	return c.base + c.length
}

// IsUnbounded returns true for tagged capabilities that have a zero base. Such capabilities
// (in practice, the root capability) grant access to the whole address space and cannot be
// treated as a reference to any particular object.
func (c Capability) IsUnbounded() bool {
	return c.tag && c.base == 0
}

// InBounds returns true if [Address, Address+size) lies inside the capability's bounds
func (c Capability) InBounds(size uint64) bool {
	if c.offset > c.length {
		return false
	}
	return size <= c.length-c.offset
}

// ClearTag returns a copy of the capability with the tag cleared
func (c Capability) ClearTag() Capability {
	c.tag = false
	return c
}

// SetOffset returns a copy of the capability with its cursor moved to offset. The cursor is
// allowed to leave the bounds; dereferences are checked separately.
func (c Capability) SetOffset(offset uint64) Capability {
	c.offset = offset
	return c
}

// IncOffset returns a copy of the capability with its cursor moved by delta bytes
func (c Capability) IncOffset(delta int64) Capability {
	c.offset = uint64(int64(c.offset) + delta)
	return c
}

// IncBase returns a copy of the capability with its base raised by delta bytes and its length
// reduced by the same amount. The offset is preserved. Raising the base past the top clears the tag.
func (c Capability) IncBase(delta uint64) Capability {
	if delta > c.length {
		c.tag = false
		c.base += delta
		c.length = 0
		return c
	}
	c.base += delta
	c.length -= delta
	return c
}

// SetLen returns a copy of the capability with its length set to length. Lengths larger than the
// current length clear the tag.
func (c Capability) SetLen(length uint64) Capability {
	if length > c.length {
		c.tag = false
	}
	c.length = length
	return c
}

// Narrow returns a capability with offset 0 spanning [Base+offset, Base+offset+length). If the
// requested range does not lie inside the current bounds, the result is tag-clear.
func (c Capability) Narrow(offset, length uint64) Capability {
	return c.IncBase(offset).SetLen(length).SetOffset(0)
}

// Contains returns true if every address referenced by other is inside this capability's bounds
func (c Capability) Contains(other Capability) bool {
	return other.base >= c.base && other.Top() <= c.Top()
}

func (c Capability) String() string {
	t := 0
	if c.tag {
		t = 1
	}
	return fmt.Sprintf("[b=0x%x o=%d l=0x%x t=%d]", c.base, c.offset, c.length, t)
}
