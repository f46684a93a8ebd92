package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/tagmem"
)

// BlockTable tracks the occupancy of a fixed memory pool divided into equally sized slots. Each
// slot has a two-bit SlotType code in a packed type map, four slots to a byte. The table also
// keeps a revoked bit per slot and a cache of the tag bitmap of every page it spans.
//
// Small tables (TableSmall) use each slot as a slab holding a Block header followed by objects of
// a single size class. Big tables store objects directly in runs of slots: a SlotUsed head followed
// by SlotContinuation slots.
//
// A BlockTable never grows.
type BlockTable struct {
	space    *tagmem.Space
	base     capability.Capability
	slotSize int
	nslots   int
	flags    TableFlags

	typeMap []uint8
	revoked []uint64

	tags      []tagmem.Tags
	tagsValid []bool
}

// NewBlockTable creates a table over the memory referenced by base. The length of base must be a
// nonzero multiple of slotSize, and base must be page-aligned. Every slot starts out SlotFree.
func NewBlockTable(space *tagmem.Space, base capability.Capability, slotSize int, flags TableFlags) (*BlockTable, error) {
	if err := memutils.CheckPow2(slotSize, "slotSize"); err != nil {
		return nil, err
	}
	if base.Base()%tagmem.PageSize != 0 {
		return nil, errors.Newf("block table base 0x%x is not page-aligned", base.Base())
	}
	if base.Length() == 0 || base.Length()%uint64(slotSize) != 0 {
		return nil, errors.Newf("block table length %d is not a nonzero multiple of the slot size %d", base.Length(), slotSize)
	}
	if flags&TableSmall != 0 && slotSize != SlabSize {
		return nil, errors.Newf("small block tables must use %d-byte slots, not %d", SlabSize, slotSize)
	}

	nslots := int(base.Length() / uint64(slotSize))
	npages := memutils.DivRoundUp(int(base.Length()), tagmem.PageSize)

	return &BlockTable{
		space:     space,
		base:      base.SetOffset(0),
		slotSize:  slotSize,
		nslots:    nslots,
		flags:     flags,
		typeMap:   make([]uint8, memutils.DivRoundUp(nslots, 4)),
		revoked:   make([]uint64, memutils.DivRoundUp(nslots, 64)),
		tags:      make([]tagmem.Tags, npages),
		tagsValid: make([]bool, npages),
	}, nil
}

// Base returns a capability spanning the whole pool
func (t *BlockTable) Base() capability.Capability { return t.base }

func (t *BlockTable) SlotSize() int  { return t.slotSize }
func (t *BlockTable) SlotCount() int { return t.nslots }

func (t *BlockTable) Flags() TableFlags { return t.flags }

// Small returns true if the table's slots are slabs
func (t *BlockTable) Small() bool { return t.flags&TableSmall != 0 }

// Space returns the address space the pool lives in
func (t *BlockTable) Space() *tagmem.Space { return t.space }

// Code returns the type code of slot i
func (t *BlockTable) Code(i int) SlotType {
	shift := (3 - i%4) * 2
	return SlotType((t.typeMap[i/4] >> shift) & 3)
}

// SetCode sets the type code of slot i
func (t *BlockTable) SetCode(i int, code SlotType) {
	shift := (3 - i%4) * 2
	t.typeMap[i/4] = (t.typeMap[i/4] &^ (3 << shift)) | uint8(code)<<shift
}

// SetRange sets the type codes of slots [from, to) to code
func (t *BlockTable) SetRange(from, to int, code SlotType) {
	for i := from; i < to; i++ {
		t.SetCode(i, code)
	}
}

// Revoked returns true if slot i has been revoked. Only meaningful for the head slot of an object in
// a big table; slabs track revocation per object in their Block header.
func (t *BlockTable) Revoked(i int) bool {
	return t.revoked[i/64]&(uint64(1)<<(i%64)) != 0
}

func (t *BlockTable) SetRevoked(i int, revoked bool) {
	if revoked {
		t.revoked[i/64] |= uint64(1) << (i % 64)
	} else {
		t.revoked[i/64] &^= uint64(1) << (i % 64)
	}
}

// SlotAddr returns the address of the first byte of slot i
func (t *BlockTable) SlotAddr(i int) uint64 {
	return t.base.Base() + uint64(i)*uint64(t.slotSize)
}

// SlotIndex returns the index of the slot containing addr. The second return value is false if
// addr is outside the pool.
func (t *BlockTable) SlotIndex(addr uint64) (int, bool) {
	if addr < t.base.Base() || addr >= t.base.Top() {
		return 0, false
	}
	return int((addr - t.base.Base()) / uint64(t.slotSize)), true
}

// SlotCapability returns a capability spanning the n slots starting at slot i
func (t *BlockTable) SlotCapability(i, n int) capability.Capability {
	return t.base.Narrow(uint64(i)*uint64(t.slotSize), uint64(n)*uint64(t.slotSize))
}

// Block returns the header of the slab in slot i. The result is only meaningful for small tables.
func (t *BlockTable) Block(i int) Block {
	return BlockAt(t.space, t.SlotAddr(i))
}

// ObjectSlots returns the number of slots occupied by the object whose head is slot i: one plus the
// number of SlotContinuation codes that follow it
func (t *BlockTable) ObjectSlots(i int) int {
	n := 1
	for i+n < t.nslots && t.Code(i+n) == SlotContinuation {
		n++
	}
	return n
}

// FindFreeRun returns the index of the first run of n consecutive SlotFree slots that starts at or
// after slot from, or -1 if there is none.
func (t *BlockTable) FindFreeRun(n, from int) int {
	run := 0
	for i := from; i < t.nslots; i++ {
		if t.Code(i) != SlotFree {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1
		}
	}
	return -1
}

// Clear returns every slot to SlotFree and drops all cached tags
func (t *BlockTable) Clear() {
	clear(t.typeMap)
	clear(t.revoked)
	t.InvalidateTags()
}
