package gc

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"golang.org/x/exp/slog"
)

func (c *Collector) markStep() error {
	entry, ok := c.markStack.Pop()
	if !ok {
		return c.startSweeping()
	}

	if entry.direct {
		if err := c.scan(nil, entry.cap); err != nil {
			return c.abort(err)
		}
		return nil
	}

	res := c.Resolve(entry.cap)
	var err error
	switch {
	case res.Status.Free():
		c.defect(errors.AssertionFailedf("free object %s found on the mark stack", entry.cap))
	case res.Status.Unmanaged():
		err = c.scanUnmanaged(entry.cap)
	default:
		err = c.scan(res.Table, res.Object)
	}
	if err != nil {
		return c.abort(err)
	}
	return nil
}

// defect records a state the collector should never be able to reach. The collection carries on.
func (c *Collector) defect(err error) {
	c.stats.Defects++
	c.lastDefect = err
	c.logger.LogAttrs(context.Background(), slog.LevelError, "internal consistency defect", slog.Any("error", err))
}

// LastDefect returns the most recent internal consistency defect the collector detected, or nil
func (c *Collector) LastDefect() error { return c.lastDefect }

// granuleMask returns the granules of the page at page that lie wholly inside [start, end)
func granuleMask(page, start, end uint64) tagmem.Tags {
	from := 0
	if start > page {
		from = int(memutils.AlignUp(start-page, tagmem.GranuleSize) / tagmem.GranuleSize)
	}
	to := tagmem.GranulesPerPage
	if end < page+tagmem.PageSize {
		to = int((end - page) / tagmem.GranuleSize)
	}
	return tagmem.RangeMask(from, to)
}

// scan visits every tagged granule of obj. Tag bitmaps are read through table's cache when table is
// non-nil, and straight from the address space otherwise.
func (c *Collector) scan(table *metadata.BlockTable, obj capability.Capability) error {
	start, end := obj.Base(), obj.Top()
	for page := memutils.AlignDown(start, tagmem.PageSize); page < end; page += tagmem.PageSize {
		var tags tagmem.Tags
		var err error
		if table != nil {
			tags, err = table.PageTags(page)
		} else {
			tags, err = c.space.PageTags(page)
		}
		if err != nil {
			return err
		}

		tags = tags.And(granuleMask(page, start, end))
		for g := tags.Next(0); g >= 0; g = tags.Next(g + 1) {
			if err := c.scanGranule(table, page+uint64(g)*tagmem.GranuleSize); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Collector) scanGranule(table *metadata.BlockTable, addr uint64) error {
	child, err := c.space.LoadCap(addr)
	if err != nil {
		return err
	}
	if !child.Tag() || child.IsUnbounded() {
		return nil
	}

	res := c.Resolve(child)
	switch {
	case res.Status.Free():
		if err := c.space.ClearTag(addr); err != nil {
			return err
		}
		if table != nil {
			table.ClearCachedTag(addr)
		}
		c.stats.Invalidated++
		c.logger.Debug("cleared dangling capability", slog.String("addr", formatAddr(addr)), slog.String("cap", child.String()))
	case res.Status.Unmanaged():
		return c.markStack.Push(markEntry{cap: child})
	default:
		if !res.Table.Mark(res) {
			return nil
		}
		c.noteMarked(res)
		return c.markStack.Push(markEntry{cap: res.Object})
	}
	return nil
}

func (c *Collector) startSweeping() error {
	c.logger.Debug("marking complete",
		slog.Int("marked", c.stats.Marked),
		slog.Int("markedBytes", c.stats.MarkedBytes),
		slog.Int("invalidated", c.stats.Invalidated),
	)

	c.phase = PhaseSweep
	for _, table := range c.tables() {
		if err := c.sweepStack.Push(table); err != nil {
			return c.abort(err)
		}
	}
	return nil
}
