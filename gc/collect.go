package gc

import (
	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Collect runs a full collection: it captures the roots, marks everything reachable from them and
// sweeps every unmarked object back into the pools. A collection left unfinished by Step is resumed
// and finished instead.
//
// Collect is refused with ErrCollectionInProgress while another collection is running, including
// from code the running collection calls back into.
func (c *Collector) Collect() error {
	c.logger.Debug("Collector::Collect")

	if !c.mutex.TryLock() {
		return errors.Wrap(ErrCollectionInProgress, "collector is busy")
	}
	defer c.mutex.Unlock()

	if err := c.checkIdle(); err != nil {
		return err
	}
	return c.collect()
}

// Step performs one unit of collection work and returns the phase the collector is left in. From
// PhaseNone it starts a collection and captures the roots; during PhaseMark it scans one entry of
// the mark worklist; during PhaseSweep it sweeps one block table. A collection is finished when
// Step returns PhaseNone.
func (c *Collector) Step() (Phase, error) {
	if !c.mutex.TryLock() {
		return c.phase, errors.Wrap(ErrCollectionInProgress, "collector is busy")
	}
	defer c.mutex.Unlock()

	if err := c.checkIdle(); err != nil {
		return c.phase, err
	}

	c.collecting.Store(true)
	defer c.collecting.Store(false)

	if c.phase == PhaseNone {
		err := c.startCollection()
		return c.phase, err
	}
	err := c.step()
	return c.phase, err
}

func (c *Collector) checkIdle() error {
	if c.destroyed {
		return ErrDestroyed
	}
	if c.collecting.Load() {
		return errors.Wrap(ErrCollectionInProgress, "nested collection")
	}
	return nil
}

func (c *Collector) collect() error {
	c.collecting.Store(true)
	defer c.collecting.Store(false)

	if c.phase == PhaseNone {
		if err := c.startCollection(); err != nil {
			return err
		}
	}
	for c.phase != PhaseNone {
		if err := c.step(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) step() error {
	switch c.phase {
	case PhaseMark:
		return c.markStep()
	case PhaseSweep:
		return c.sweepStep()
	}
	return nil
}

func (c *Collector) startCollection() error {
	c.stats.resetCycle()
	c.stats.Cycles++
	c.logger.Debug("collection started", slog.Int("cycle", c.stats.Cycles))

	c.vmRefreshed = false
	c.scanned.Clear()
	c.invalidateTags()

	c.phase = PhaseMark
	if err := c.pushRoots(); err != nil {
		return c.abort(err)
	}
	return nil
}

func (c *Collector) pushRoots() error {
	for h := 0; h < c.roots.Len(); h++ {
		root := c.roots.Get(h)
		invalid, err := c.pushRoot(root)
		if err != nil {
			return err
		}
		if invalid {
			c.roots.Set(h, root.ClearTag())
		}
	}

	for i, root := range c.trustedStack {
		invalid, err := c.pushRoot(root)
		if err != nil {
			return err
		}
		if invalid {
			c.trustedStack[i] = root.ClearTag()
		}
	}

	if c.stack != nil && c.stack.Depth() > 0 {
		if err := c.markStack.Push(markEntry{cap: c.stack.Live(), direct: true}); err != nil {
			return err
		}
	}

	c.logger.Debug("roots captured",
		slog.Int("roots", c.roots.Len()),
		slog.Int("trusted", len(c.trustedStack)),
		slog.Int("pending", c.markStack.Len()),
	)
	return nil
}

// pushRoot returns true if root refers to a free object, in which case the caller must clear the
// root's tag
func (c *Collector) pushRoot(root capability.Capability) (bool, error) {
	if !root.Tag() || root.IsUnbounded() {
		return false, nil
	}

	res := c.Resolve(root)
	switch {
	case res.Status.Free():
		c.stats.Invalidated++
		return true, nil
	case res.Status.Used():
		if !res.Table.Mark(res) {
			return false, nil
		}
		c.noteMarked(res)
		return false, c.markStack.Push(markEntry{cap: res.Object})
	default:
		return false, c.markStack.Push(markEntry{cap: root})
	}
}

func (c *Collector) noteMarked(res metadata.Resolution) {
	c.stats.Marked++
	c.stats.MarkedBytes += int(res.Object.Length())
}

// abort abandons the current collection. Every mark is cleared, so that the next collection starts
// from a clean state; nothing is freed.
func (c *Collector) abort(cause error) error {
	c.markStack.Reset()
	c.sweepStack.Reset()
	c.clearMarks()
	c.invalidateTags()
	c.phase = PhaseNone
	c.stats.Aborted++

	c.logger.Warn("collection aborted", slog.Int("cycle", c.stats.Cycles), slog.Any("error", cause))
	return errors.Wrapf(cause, "collection %d aborted", c.stats.Cycles)
}

func (c *Collector) clearMarks() {
	for i := 0; i < c.small.SlotCount(); i++ {
		if c.small.Code(i) == metadata.SlotUsed {
			c.small.Block(i).SetMarks(0)
		}
	}
	for i := 0; i < c.big.SlotCount(); i++ {
		if c.big.Code(i) == metadata.SlotMarked {
			c.big.SetCode(i, metadata.SlotUsed)
		}
	}
}

func (c *Collector) invalidateTags() {
	for _, table := range c.tables() {
		table.InvalidateTags()
	}
	for _, e := range c.vmTable.Entries() {
		if e.Table != nil {
			e.Table.InvalidateTags()
		}
	}
}
