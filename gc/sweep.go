package gc

import (
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"golang.org/x/exp/slog"
)

func (c *Collector) sweepStep() error {
	table, ok := c.sweepStack.Pop()
	if !ok {
		c.finishCollection()
		return nil
	}

	var err error
	if table.Small() {
		err = c.sweepSmall(table)
	} else {
		err = c.sweepBig(table)
	}
	table.InvalidateTags()
	if err != nil {
		return c.abort(err)
	}
	return nil
}

func (c *Collector) sweepBig(table *metadata.BlockTable) error {
	for i := 0; i < table.SlotCount(); {
		switch table.Code(i) {
		case metadata.SlotMarked:
			table.SetCode(i, metadata.SlotUsed)
			i += table.ObjectSlots(i)
		case metadata.SlotUsed:
			n := table.ObjectSlots(i)
			addr := table.SlotAddr(i)
			table.SetRange(i, i+n, metadata.SlotFree)
			table.SetRevoked(i, false)
			if err := c.space.Fill(addr, n*table.SlotSize(), memutils.FillFreed); err != nil {
				return err
			}
			c.noteSwept(addr, n*table.SlotSize())
			i += n
		default:
			i++
		}
	}
	return nil
}

func (c *Collector) sweepSmall(table *metadata.BlockTable) error {
	for i := 0; i < table.SlotCount(); i++ {
		if table.Code(i) != metadata.SlotUsed {
			continue
		}

		blk := table.Block(i)
		objectSize := blk.ObjectSize()
		valid, marks := blk.ValidMask(), blk.Marks()

		swept := valid &^ (blk.Free() | marks)
		for swept != 0 {
			idx := memutils.FirstBit(swept)
			swept &^= uint64(1) << idx

			addr := blk.ObjectAddr(idx)
			if err := c.space.Fill(addr, objectSize, memutils.FillFreed); err != nil {
				return err
			}
			c.noteSwept(addr, objectSize)
		}

		if marks == 0 {
			if err := c.releaseSlab(table, i, blk); err != nil {
				return err
			}
			continue
		}

		blk.SetFree(valid &^ marks)
		blk.SetRevoked(blk.Revoked() & marks)
		blk.SetMarks(0)
	}
	return nil
}

// releaseSlab returns an empty slab to the small table
func (c *Collector) releaseSlab(table *metadata.BlockTable, slot int, blk metadata.Block) error {
	c.classes[memutils.Log2(uint64(blk.ObjectSize()))].Remove(blk)
	table.SetCode(slot, metadata.SlotFree)
	return c.space.Fill(blk.Addr(), metadata.SlabSize, memutils.FillFreed)
}

func (c *Collector) noteSwept(addr uint64, size int) {
	c.stats.Swept++
	c.stats.SweptBytes += size
	if c.forgetPending(addr) {
		c.stats.Reused++
	}
}

// forgetPending drops addr from the objects waiting to be reused and returns true if it was there
func (c *Collector) forgetPending(addr uint64) bool {
	if _, ok := c.reusePending.Get(addr); !ok {
		return false
	}
	c.reusePending.Delete(addr)
	return true
}

func (c *Collector) finishCollection() {
	c.phase = PhaseNone
	c.stats.Allocations -= c.stats.Swept
	c.stats.AllocationBytes -= c.stats.SweptBytes

	c.logger.Debug("collection finished",
		slog.Int("cycle", c.stats.Cycles),
		slog.Int("marked", c.stats.Marked),
		slog.Int("swept", c.stats.Swept),
		slog.Int("sweptBytes", c.stats.SweptBytes),
		slog.Int("allocations", c.stats.Allocations),
	)

	memutils.DebugValidate(c)
}
