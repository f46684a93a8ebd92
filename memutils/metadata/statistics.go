package metadata

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/munraj/cherigc/memutils"
)

// VisitObjects calls visit once for each live object in the table, with the slot it lives in
// and a Resolution describing it. Iteration stops at the first error, which is returned.
func (t *BlockTable) VisitObjects(visit func(res Resolution) error) error {
	for i := 0; i < t.nslots; i++ {
		code := t.Code(i)
		if code != SlotUsed && code != SlotMarked {
			continue
		}

		if !t.Small() {
			res := t.Resolve(t.SlotCapability(i, 1))
			if err := visit(res); err != nil {
				return err
			}
			continue
		}

		blk := t.Block(i)
		live := blk.ValidMask() &^ blk.Free()
		for live != 0 {
			idx := memutils.FirstBit(live)
			live &^= uint64(1) << idx
			res := t.Resolve(t.base.Narrow(blk.ObjectAddr(idx)-t.base.Base(), uint64(blk.ObjectSize())))
			if err := visit(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddStatistics sums this table's occupancy into stats
func (t *BlockTable) AddStatistics(stats *memutils.Statistics) {
	for i := 0; i < t.nslots; i++ {
		code := t.Code(i)
		if code == SlotFree {
			continue
		}
		stats.BlockCount++
		stats.BlockBytes += t.slotSize

		switch {
		case code == SlotContinuation:
		case t.Small():
			blk := t.Block(i)
			live := bits.OnesCount64(blk.ValidMask() &^ blk.Free())
			stats.AllocationCount += live
			stats.AllocationBytes += live * blk.ObjectSize()
		default:
			stats.AllocationCount++
			stats.AllocationBytes += t.ObjectSlots(i) * t.slotSize
		}
	}
}

// AddDetailedStatistics sums this table's occupancy, including the size distribution of objects and
// free ranges, into stats
func (t *BlockTable) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	freeRun := 0
	for i := 0; i < t.nslots; i++ {
		code := t.Code(i)
		if code == SlotFree {
			freeRun++
			continue
		}
		if freeRun > 0 {
			stats.AddUnusedRange(freeRun * t.slotSize)
			freeRun = 0
		}
		stats.BlockCount++
		stats.BlockBytes += t.slotSize

		switch {
		case code == SlotContinuation:
		case t.Small():
			blk := t.Block(i)
			valid := blk.ValidMask()
			for idx := 0; idx < blk.ObjectCount(); idx++ {
				bit := uint64(1) << idx
				if valid&bit == 0 {
					continue
				}
				if blk.Free()&bit != 0 {
					stats.AddUnusedRange(blk.ObjectSize())
				} else {
					stats.AddAllocation(blk.ObjectSize())
				}
			}
		default:
			stats.AddAllocation(t.ObjectSlots(i) * t.slotSize)
		}
	}
	if freeRun > 0 {
		stats.AddUnusedRange(freeRun * t.slotSize)
	}
}

// BlockJsonData populates a json object with information about this table
func (t *BlockTable) BlockJsonData(json jwriter.ObjectState) {
	var stats memutils.Statistics
	t.AddStatistics(&stats)

	json.Name("Base").String(t.base.String())
	json.Name("Small").Bool(t.Small())
	json.Name("SlotSize").Int(t.slotSize)
	json.Name("Slots").Int(t.nslots)
	json.Name("TotalBytes").Int(t.nslots * t.slotSize)
	json.Name("UsedSlots").Int(stats.BlockCount)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
}

// Validate performs internal consistency checks on the table
func (t *BlockTable) Validate() error {
	for i := 0; i < t.nslots; i++ {
		code := t.Code(i)
		switch {
		case code == SlotContinuation && t.Small():
			return errors.Newf("small table slot %d is a continuation", i)
		case code == SlotContinuation && (i == 0 || t.Code(i-1) == SlotFree):
			return errors.Newf("continuation slot %d does not follow an object", i)
		case code == SlotFree && t.Revoked(i):
			return errors.Newf("free slot %d is revoked", i)
		case code == SlotMarked && t.Small():
			return errors.Newf("small table slot %d carries a slot-level mark", i)
		case code != SlotFree && t.Small():
			if err := t.Block(i).Validate(); err != nil {
				return errors.Wrapf(err, "slot %d", i)
			}
		}
	}
	return nil
}
