package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/tagmem"
	"github.com/munraj/cherigc/vm"
	"github.com/munraj/cherigc/worklist"
	"golang.org/x/exp/slog"
)

// scanUnmanaged scans the pages ptr refers to in memory the collector does not manage. The scan is
// clamped to the mapping containing the start of ptr, and each range is scanned at most once per
// collection. Ranges that are unmapped, unreadable, or cannot be classified are skipped with a
// warning; only a worklist overflow is returned as an error.
func (c *Collector) scanUnmanaged(ptr capability.Capability) error {
	start := memutils.AlignDown(ptr.Base(), tagmem.PageSize)
	if start == 0 {
		c.logger.Debug("ignoring near-null capability", slog.String("cap", ptr.String()))
		return nil
	}
	top := ptr.Top()
	end := memutils.AlignUp(top, tagmem.PageSize)
	if end < top {
		end = memutils.AlignDown(top, tagmem.PageSize)
	}

	e, err := c.findMapping(start)
	if err != nil {
		c.logger.Warn("cannot classify unmanaged capability", slog.String("cap", ptr.String()), slog.Any("error", err))
		return nil
	}
	switch {
	case e == nil:
		c.logger.Warn("unmanaged capability is not mapped", slog.String("cap", ptr.String()))
		return nil
	case e.GCType&vm.GCTypeManaged != 0:
		c.logger.Warn("unmanaged capability points into a managed mapping", slog.String("cap", ptr.String()), slog.String("mapping", e.String()))
		return nil
	case e.Prot&tagmem.ProtRead == 0:
		c.logger.Warn("unmanaged capability points into an unreadable mapping", slog.String("cap", ptr.String()), slog.String("mapping", e.String()))
		return nil
	case e.Table == nil:
		c.logger.Warn("unmanaged capability points into an untracked mapping", slog.String("cap", ptr.String()), slog.String("mapping", e.String()))
		return nil
	}

	start = max(start, e.Start)
	end = min(end, e.End)
	if !c.scanned.Add(span{start, end}) {
		return nil
	}

	c.logger.Debug("scanning unmanaged range", slog.String("start", formatAddr(start)), slog.String("end", formatAddr(end)))
	err = c.scan(e.Table, capability.New(start, end-start))
	if err != nil && !errors.Is(err, worklist.ErrOverflow) {
		c.logger.Warn("unmanaged scan failed", slog.String("mapping", e.String()), slog.Any("error", err))
		return nil
	}
	return err
}

// findMapping returns the mapping containing addr, or nil. The mapping table is refreshed the first
// time it is needed in each collection.
func (c *Collector) findMapping(addr uint64) (*vm.Entry, error) {
	if !c.vmRefreshed {
		c.vmRefreshed = true
		if err := c.vmTable.Update(); err != nil {
			return nil, err
		}
	}

	e, ok := c.vmTable.Find(addr)
	if !ok {
		return nil, nil
	}
	return e, nil
}
