package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"github.com/munraj/cherigc/vm"
	"golang.org/x/exp/slog"
)

// Revoke frees the object ptr refers to immediately, and clears the tag of every capability to it
// that the collector can reach: in live objects, in the root set, in the trusted stack, on the
// native stack and in every mapping the collector does not manage, whatever its protection. No
// stale capability to the object survives for the mutator to use after it is reused.
//
// ptr must refer to a live object. Revoke is refused while a collection is in progress.
func (c *Collector) Revoke(ptr capability.Capability) error {
	c.logger.Debug("Collector::Revoke", slog.String("cap", ptr.String()))

	res, unlock, err := c.beginRelease(ptr)
	if err != nil {
		return err
	}
	defer unlock()

	res.Table.Revoke(res)

	cleared, err := c.visitReferences(res.Object, func(ref capability.Capability) bool {
		return c.Resolve(ref).Status.Revoked()
	})
	if err != nil {
		unrevoke(res)
		return errors.Wrapf(err, "could not revoke %s", res.Object)
	}

	if err := c.releaseObject(res); err != nil {
		return err
	}
	c.forgetPending(res.Object.Base())
	c.stats.Revoked++

	c.logger.Debug("  revoked", slog.String("object", res.Object.String()), slog.Int("cleared", cleared))
	return nil
}

// Reuse hands the object ptr refers to back to the allocator once nothing refers to it. If no
// capability to the object is reachable it is freed immediately; otherwise it is freed by the first
// collection that finds it unreachable. Unlike Revoke, Reuse never clears a capability.
//
// ptr must refer to a live object. Reuse is refused while a collection is in progress.
func (c *Collector) Reuse(ptr capability.Capability) error {
	c.logger.Debug("Collector::Reuse", slog.String("cap", ptr.String()))

	res, unlock, err := c.beginRelease(ptr)
	if err != nil {
		return err
	}
	defer unlock()

	refs := 0
	_, err = c.visitReferences(res.Object, func(ref capability.Capability) bool {
		other := c.Resolve(ref)
		if other.Status.Used() && other.Table == res.Table && other.Object.Base() == res.Object.Base() {
			refs++
		}
		return false
	})
	if err != nil {
		return errors.Wrapf(err, "could not count references to %s", res.Object)
	}

	if refs > 0 {
		c.reusePending.Put(res.Object.Base(), struct{}{})
		c.logger.Debug("  reuse deferred", slog.String("object", res.Object.String()), slog.Int("references", refs))
		return nil
	}

	if err := c.releaseObject(res); err != nil {
		return err
	}
	c.forgetPending(res.Object.Base())
	c.stats.Reused++

	c.logger.Debug("  reused", slog.String("object", res.Object.String()))
	return nil
}

func unrevoke(res metadata.Resolution) {
	if res.Table.Small() {
		res.Block.SetRevoked(res.Block.Revoked() &^ (uint64(1) << res.BlockIndex))
		return
	}
	res.Table.SetRevoked(res.SlotIndex, false)
}

// beginRelease takes the collector for Revoke or Reuse, resolves ptr and refreshes the mapping
// table. On success the caller must call unlock.
func (c *Collector) beginRelease(ptr capability.Capability) (metadata.Resolution, func(), error) {
	if !c.mutex.TryLock() {
		return metadata.Resolution{}, nil, errors.Wrap(ErrCollectionInProgress, "collector is busy")
	}

	res, err := c.resolveLive(ptr)
	if err == nil {
		err = c.vmTable.Update()
	}
	if err != nil {
		c.mutex.Unlock()
		return metadata.Resolution{}, nil, err
	}
	return res, c.mutex.Unlock, nil
}

func (c *Collector) resolveLive(ptr capability.Capability) (metadata.Resolution, error) {
	if err := c.checkIdle(); err != nil {
		return metadata.Resolution{}, err
	}
	if c.phase != PhaseNone {
		return metadata.Resolution{}, errors.Wrapf(ErrCollectionInProgress, "collector is in phase %s", c.phase)
	}
	if !ptr.Tag() {
		return metadata.Resolution{}, errors.Wrapf(ErrNotAllocated, "%s is untagged", ptr)
	}

	res := c.Resolve(ptr)
	if !res.Status.Used() {
		return metadata.Resolution{}, errors.Wrapf(ErrNotAllocated, "%s resolves to %s", ptr, res.Status)
	}
	return res, nil
}

// releaseObject returns the object res describes to its pool, and its slab to the small table if
// the slab is left empty
func (c *Collector) releaseObject(res metadata.Resolution) error {
	table := res.Table
	size := int(res.Object.Length())

	table.Release(res)
	if err := c.space.Fill(res.Object.Base(), size, memutils.FillFreed); err != nil {
		return err
	}
	if table.Small() {
		blk := res.Block
		if blk.Free()&blk.ValidMask() == blk.ValidMask() {
			if err := c.releaseSlab(table, res.SlotIndex, blk); err != nil {
				return err
			}
		}
	}
	table.InvalidateTags()

	c.stats.Allocations--
	c.stats.AllocationBytes -= size
	return nil
}

// visitReferences calls visit for every tagged capability the collector can reach, other than
// those stored inside skip itself. If visit returns true the capability's tag is cleared. It returns
// the number of capabilities cleared.
func (c *Collector) visitReferences(skip capability.Capability, visit func(ref capability.Capability) bool) (int, error) {
	cleared := 0
	visitRange := func(start, end uint64) error {
		for page := memutils.AlignDown(start, tagmem.PageSize); page < end; page += tagmem.PageSize {
			tags, err := c.space.PageTags(page)
			if err != nil {
				return err
			}
			tags = tags.And(granuleMask(page, start, end))
			for g := tags.Next(0); g >= 0; g = tags.Next(g + 1) {
				addr := page + uint64(g)*tagmem.GranuleSize
				ref, err := c.space.LoadCap(addr)
				if err != nil {
					return err
				}
				if !visit(ref) {
					continue
				}
				if err := c.space.ClearTag(addr); err != nil {
					return err
				}
				cleared++
			}
		}
		return nil
	}

	for _, table := range c.tables() {
		err := table.VisitObjects(func(res metadata.Resolution) error {
			if res.Object.Base() == skip.Base() {
				return nil
			}
			return visitRange(res.Object.Base(), res.Object.Top())
		})
		if err != nil {
			return cleared, err
		}
	}

	for h := 0; h < c.roots.Len(); h++ {
		root := c.roots.Get(h)
		if root.Tag() && visit(root) {
			c.roots.Set(h, root.ClearTag())
			cleared++
		}
	}
	for i, root := range c.trustedStack {
		if root.Tag() && visit(root) {
			c.trustedStack[i] = root.ClearTag()
			cleared++
		}
	}

	if c.stack != nil {
		live := c.stack.Live()
		if err := visitRange(live.Base(), live.Top()); err != nil {
			return cleared, err
		}
	}

	for _, e := range c.vmTable.Entries() {
		// Tags are collector metadata, so references are found and cleared whatever the
		// mapping's protection
		if e.GCType&vm.GCTypeManaged != 0 {
			continue
		}
		if region := c.stackRegion(); region != nil && e.Start == region.Start() {
			continue
		}
		if err := visitRange(e.Start, e.End); err != nil {
			return cleared, err
		}
	}

	return cleared, nil
}
