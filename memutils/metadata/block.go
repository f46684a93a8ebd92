package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/tagmem"
)

const (
	blockObjectSizeOffset = 0
	blockMarksOffset      = 8
	blockFreeOffset       = 16
	blockRevokedOffset    = 24
	blockNextOffset       = 32
	blockPrevOffset       = 40
)

// Block is a view of the header stored at the start of a slab. The header lives in the slab's own
// memory: the object size, the mark, free and revoked bitmaps (bit i describes object i of the
// slab), and the addresses of the neighboring slabs in the size class list. The list links are
// plain words, never capabilities, so that they do not keep other slabs alive.
//
// The zero Block refers to no slab.
type Block struct {
	space *tagmem.Space
	addr  uint64
}

// BlockAt returns a view of the header stored at addr
func BlockAt(space *tagmem.Space, addr uint64) Block {
	return Block{space: space, addr: addr}
}

// Addr returns the address of the slab, which is the address of its header
func (b Block) Addr() uint64 { return b.addr }

// Valid returns false for the zero Block
func (b Block) Valid() bool { return b.space != nil && b.addr != 0 }

func (b Block) word(off uint64) uint64 {
	v, err := b.space.Word(b.addr + off)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "block header at 0x%x is not readable", b.addr))
	}
	return v
}

func (b Block) setWord(off uint64, v uint64) {
	err := b.space.PutWord(b.addr+off, v)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "block header at 0x%x is not writable", b.addr))
	}
}

// Init formats the header for objects of size objectSize, with every object free
func (b Block) Init(objectSize int) {
	memutils.DebugCheckPow2(objectSize, "objectSize")
	b.setWord(blockObjectSizeOffset, uint64(objectSize))
	b.setWord(blockMarksOffset, 0)
	b.setWord(blockFreeOffset, b.ValidMask())
	b.setWord(blockRevokedOffset, 0)
	b.setWord(blockNextOffset, 0)
	b.setWord(blockPrevOffset, 0)
}

func (b Block) ObjectSize() int { return int(b.word(blockObjectSizeOffset)) }

func (b Block) Marks() uint64       { return b.word(blockMarksOffset) }
func (b Block) SetMarks(v uint64)   { b.setWord(blockMarksOffset, v) }
func (b Block) Free() uint64        { return b.word(blockFreeOffset) }
func (b Block) SetFree(v uint64)    { b.setWord(blockFreeOffset, v) }
func (b Block) Revoked() uint64     { return b.word(blockRevokedOffset) }
func (b Block) SetRevoked(v uint64) { b.setWord(blockRevokedOffset, v) }

// Next returns the next slab in the size class list, or the zero Block
func (b Block) Next() Block {
	return b.link(blockNextOffset)
}

// Prev returns the previous slab in the size class list, or the zero Block
func (b Block) Prev() Block {
	return b.link(blockPrevOffset)
}

func (b Block) link(off uint64) Block {
	addr := b.word(off)
	if addr == 0 {
		return Block{}
	}
	return Block{space: b.space, addr: addr}
}

func (b Block) SetNext(next Block) { b.setWord(blockNextOffset, next.addr) }
func (b Block) SetPrev(prev Block) { b.setWord(blockPrevOffset, prev.addr) }

// ObjectCount returns the number of objects, including those overlapping the header, that fit
// in the slab
func (b Block) ObjectCount() int {
	return SlabSize / b.ObjectSize()
}

// HeaderBits returns the number of leading objects that overlap the header and so are never
// handed out
func (b Block) HeaderBits() int {
	return memutils.DivRoundUp(BlockHeaderSize, b.ObjectSize())
}

// ValidMask returns the bits of the object bitmaps that describe allocatable objects
func (b Block) ValidMask() uint64 {
	return memutils.LowMask(b.ObjectCount()) &^ memutils.LowMask(b.HeaderBits())
}

// ObjectAddr returns the address of object i of the slab
func (b Block) ObjectAddr(i int) uint64 {
	return b.addr + uint64(i*b.ObjectSize())
}

// Validate checks the header for internal consistency
func (b Block) Validate() error {
	objectSize := b.ObjectSize()
	if objectSize < MinSize || objectSize >= BigSize || objectSize&(objectSize-1) != 0 {
		return errors.Newf("block at 0x%x has invalid object size %d", b.addr, objectSize)
	}

	marks, free := b.Marks(), b.Free()
	if marks&free != 0 {
		return errors.Newf("block at 0x%x has objects both free and marked: 0x%x", b.addr, marks&free)
	}

	invalid := ^b.ValidMask()
	if (marks|free|b.Revoked())&invalid != 0 {
		return errors.Newf("block at 0x%x has bits set for objects overlapping the header or past its end", b.addr)
	}

	return nil
}
