package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Allocate reserves an object of at least size bytes and returns a tagged capability bounded to
// exactly size bytes. The requested bytes are filled with memutils.FillAllocated and any rounding
// padding with memutils.FillPadding.
//
// If a collection left unfinished by Step is pending it is finished first. If no room can be found,
// one collection is run and the allocation retried; if it still fails, the error matches
// ErrOutOfMemory. Allocate is refused with ErrCollectionInProgress from code a running collection
// calls back into, such as a log handler.
func (c *Collector) Allocate(size int) (capability.Capability, error) {
	c.logger.Debug("Collector::Allocate", slog.Int("size", size))

	if !c.mutex.TryLock() {
		if c.collecting.Load() {
			return capability.Capability{}, errors.Wrap(ErrCollectionInProgress, "cannot allocate during a collection")
		}
		c.mutex.Lock()
	}
	defer c.mutex.Unlock()

	if c.destroyed {
		return capability.Capability{}, ErrDestroyed
	}
	if c.collecting.Load() {
		return capability.Capability{}, errors.Wrap(ErrCollectionInProgress, "cannot allocate during a collection")
	}

	if c.phase != PhaseNone {
		if err := c.collect(); err != nil {
			return capability.Capability{}, err
		}
	}

	req, err := metadata.NewAllocationRequest(size)
	if err != nil {
		return capability.Capability{}, err
	}

	obj, err := c.allocate(&req)
	if errors.Is(err, ErrOutOfMemory) {
		c.logger.Debug("  allocation failed, collecting", slog.Int("size", size))
		if err := c.collect(); err != nil {
			return capability.Capability{}, err
		}
		req.Strategy |= metadata.AllocationStrategyAfterCollect
		obj, err = c.allocate(&req)
	}
	if err != nil {
		return capability.Capability{}, err
	}

	if err := c.space.Fill(obj.Base(), size, memutils.FillAllocated); err != nil {
		return capability.Capability{}, err
	}
	if req.RoundedSize > size {
		if err := c.space.Fill(obj.Base()+uint64(size), req.RoundedSize-size, memutils.FillPadding); err != nil {
			return capability.Capability{}, err
		}
	}

	c.stats.Allocations++
	c.stats.AllocationBytes += req.RoundedSize
	if req.Type == metadata.AllocationRequestSmall {
		c.stats.ClassAllocations[req.Class]++
	} else {
		c.stats.BigAllocations++
	}

	c.logger.Debug("  allocated",
		slog.String("cap", obj.String()),
		slog.String("type", req.Type.String()),
		slog.String("strategy", req.Strategy.String()),
		slog.Int("slot", req.SlotIndex),
	)

	return obj.Narrow(0, uint64(size)), nil
}

func (c *Collector) allocate(req *metadata.AllocationRequest) (capability.Capability, error) {
	if req.Type == metadata.AllocationRequestBig {
		return c.allocateBig(req)
	}
	return c.allocateSmall(req)
}

func (c *Collector) allocateSmall(req *metadata.AllocationRequest) (capability.Capability, error) {
	list := &c.classes[req.Class]

	blk, ok := list.FindFree()
	if ok {
		req.Strategy |= metadata.AllocationStrategySlab
	} else {
		slot := c.small.FindFreeRun(1, 0)
		if slot < 0 {
			return capability.Capability{}, errors.Wrapf(ErrOutOfMemory, "no free slab for class %d", req.Class)
		}
		c.small.SetCode(slot, metadata.SlotUsed)
		blk = c.small.Block(slot)
		blk.Init(list.ObjectSize())
		list.PushFront(blk)
		req.Strategy |= metadata.AllocationStrategyNewSlab
	}

	free := blk.Free() & blk.ValidMask()
	idx := memutils.FirstBit(free)
	blk.SetFree(blk.Free() &^ (uint64(1) << idx))

	req.SlotIndex, _ = c.small.SlotIndex(blk.Addr())
	req.BlockIndex = idx

	addr := blk.ObjectAddr(idx)
	return c.small.Base().Narrow(addr-c.small.Base().Base(), uint64(req.RoundedSize)), nil
}

func (c *Collector) allocateBig(req *metadata.AllocationRequest) (capability.Capability, error) {
	n := req.SlotCount

	var slot int
	if c.bigBump+n <= c.big.SlotCount() && c.big.FindFreeRun(n, c.bigBump) == c.bigBump {
		slot = c.bigBump
		req.Strategy |= metadata.AllocationStrategyBump
	} else if slot = c.big.FindFreeRun(n, 0); slot >= 0 {
		req.Strategy |= metadata.AllocationStrategyScan
	} else {
		return capability.Capability{}, errors.Wrapf(ErrOutOfMemory, "no run of %d free slots", n)
	}

	c.big.SetCode(slot, metadata.SlotUsed)
	c.big.SetRange(slot+1, slot+n, metadata.SlotContinuation)
	c.big.SetRevoked(slot, false)
	c.bigBump = slot + n

	req.SlotIndex = slot
	return c.big.SlotCapability(slot, n), nil
}
