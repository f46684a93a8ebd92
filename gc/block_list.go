package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
)

// blockList links the slabs of one size class through the next and prev words of their headers.
// Slabs with free objects are kept at the front so that FindFree usually succeeds at the head.
type blockList struct {
	class int
	count int
	head  metadata.Block
	tail  metadata.Block
}

func (l *blockList) Init(class int) {
	l.class = class
	l.count = 0
	l.head = metadata.Block{}
	l.tail = metadata.Block{}
}

func (l *blockList) Len() int { return l.count }

// ObjectSize returns the size of the objects held by the slabs of this list
func (l *blockList) ObjectSize() int { return 1 << l.class }

func (l *blockList) PushFront(blk metadata.Block) {
	blk.SetPrev(metadata.Block{})
	if l.count == 0 {
		blk.SetNext(metadata.Block{})
		l.head = blk
		l.tail = blk
		l.count = 1
		return
	}

	blk.SetNext(l.head)
	l.head.SetPrev(blk)
	l.head = blk
	l.count++
}

func (l *blockList) Remove(blk metadata.Block) {
	prev := blk.Prev()
	next := blk.Next()

	if prev.Valid() {
		prev.SetNext(next)
	} else {
		l.head = next
	}

	if next.Valid() {
		next.SetPrev(prev)
	} else {
		l.tail = prev
	}

	blk.SetNext(metadata.Block{})
	blk.SetPrev(metadata.Block{})

	l.count--
}

// FindFree returns the first slab in the list with a free object. A full slab found ahead of it is
// moved to the back of the list.
func (l *blockList) FindFree() (metadata.Block, bool) {
	for blk, seen := l.head, 0; blk.Valid() && seen < l.count; seen++ {
		next := blk.Next()
		if blk.Free()&blk.ValidMask() != 0 {
			return blk, true
		}
		if next.Valid() {
			l.Remove(blk)
			l.pushBack(blk)
		}
		blk = next
	}
	return metadata.Block{}, false
}

func (l *blockList) pushBack(blk metadata.Block) {
	if l.count == 0 {
		l.PushFront(blk)
		return
	}
	blk.SetNext(metadata.Block{})
	blk.SetPrev(l.tail)
	l.tail.SetNext(blk)
	l.tail = blk
	l.count++
}

// Validate checks that the list's links are consistent, that its count is right and that every
// slab in it holds objects of the list's class and is in use in table
func (l *blockList) Validate(table *metadata.BlockTable) error {
	declaredCount := l.count
	actualCount := 0

	var prev metadata.Block
	for blk := l.head; blk.Valid(); blk = blk.Next() {
		actualCount++
		if actualCount > declaredCount {
			break
		}

		if blk.Prev() != prev {
			return errors.Newf("class %d list: slab at 0x%x does not link back to 0x%x", l.class, blk.Addr(), prev.Addr())
		}
		if blk.ObjectSize() != l.ObjectSize() {
			return errors.Newf("class %d list: slab at 0x%x holds %d-byte objects", l.class, blk.Addr(), blk.ObjectSize())
		}
		if idx, ok := table.SlotIndex(blk.Addr()); !ok || table.Code(idx) != metadata.SlotUsed {
			return errors.Newf("class %d list: slab at 0x%x is not in use", l.class, blk.Addr())
		}
		prev = blk
	}

	if declaredCount != actualCount {
		return errors.Newf("the listed number of slabs in class %d (%d) does not match the actual number of slabs (%d)", l.class, declaredCount, actualCount)
	}
	if l.tail != prev {
		return errors.Newf("class %d list: tail is 0x%x but the last slab is 0x%x", l.class, l.tail.Addr(), prev.Addr())
	}

	return nil
}

func (l *blockList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for blk := l.head; blk.Valid(); blk = blk.Next() {
		stats.Statistics.BlockCount++
		stats.Statistics.BlockBytes += metadata.SlabSize

		valid := blk.ValidMask()
		free := blk.Free()
		for idx := 0; idx < blk.ObjectCount(); idx++ {
			bit := uint64(1) << idx
			switch {
			case valid&bit == 0:
			case free&bit != 0:
				stats.AddUnusedRange(l.ObjectSize())
			default:
				stats.AddAllocation(l.ObjectSize())
			}
		}
	}
}

func (l *blockList) BuildStatsString(writer *jwriter.Writer) {
	s := writer.Array()
	defer s.End()

	for blk := l.head; blk.Valid(); blk = blk.Next() {
		o := s.Object()
		o.Name("Addr").String(formatAddr(blk.Addr()))
		o.Name("ObjectSize").Int(blk.ObjectSize())
		o.Name("Free").String(formatBits(blk.Free() & blk.ValidMask()))
		o.Name("Marks").String(formatBits(blk.Marks()))
		o.End()
	}
}
