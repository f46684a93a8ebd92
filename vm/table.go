package vm

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"golang.org/x/exp/slog"
)

type span struct {
	start, end uint64
}

// Table is a fixed-capacity snapshot of the process's mappings, refreshed from a Source. Every
// entry that can be tracked gets a synthesized block table; tables are reused across updates for
// as long as their range is still mapped.
type Table struct {
	logger *slog.Logger
	space  *tagmem.Space
	source Source

	entries []Entry
	count   int
	tables  *swiss.Map[span, *metadata.BlockTable]
}

// NewTable creates an empty table that can hold capacity entries
func NewTable(logger *slog.Logger, space *tagmem.Space, source Source, capacity int) *Table {
	return &Table{
		logger:  logger,
		space:   space,
		source:  source,
		entries: make([]Entry, capacity),
		tables:  swiss.NewMap[span, *metadata.BlockTable](uint32(capacity)),
	}
}

// Update rereads the mappings from the Source. On any failure the table is left empty, so that
// addresses it used to classify become unclassifiable. Failures because the table cannot hold every
// mapping match ErrTooSmall; all other failures match ErrSource.
func (t *Table) Update() error {
	count, err := t.source.Update(t.entries)
	if err != nil {
		t.drop()
		if errors.Is(err, ErrTooSmall) {
			return errors.Wrapf(err, "capacity %d", len(t.entries))
		}
		return errors.Mark(errors.Wrap(err, "mapping update failed"), ErrSource)
	}
	if count > len(t.entries) {
		t.drop()
		return errors.Wrapf(ErrTooSmall, "source reported %d mappings, capacity %d", count, len(t.entries))
	}

	t.count = count
	live := swiss.NewMap[span, *metadata.BlockTable](uint32(count))
	for i := 0; i < count; i++ {
		e := &t.entries[i]
		e.Table = t.track(e)
		if e.Table != nil {
			live.Put(span{e.Start, e.End}, e.Table)
		}
	}
	t.tables = live

	t.logger.Debug("mapping table updated", slog.Int("entries", count))
	return nil
}

// drop forgets every entry along with the tables synthesized for them
func (t *Table) drop() {
	t.count = 0
	t.tables = swiss.NewMap[span, *metadata.BlockTable](uint32(len(t.entries)))
}

func (t *Table) track(e *Entry) *metadata.BlockTable {
	key := span{e.Start, e.End}
	if bt, ok := t.tables.Get(key); ok {
		return bt
	}

	if e.End <= e.Start || e.Start%tagmem.PageSize != 0 || e.End%tagmem.PageSize != 0 {
		t.logger.Debug("cannot track unaligned mapping", slog.String("entry", e.String()))
		return nil
	}

	bt, err := metadata.NewBlockTable(t.space, capability.New(e.Start, e.Len()), tagmem.PageSize, 0)
	if err != nil {
		t.logger.Debug("cannot track mapping", slog.String("entry", e.String()), slog.Any("error", err))
		return nil
	}
	bt.SetRange(0, bt.SlotCount(), metadata.SlotUsed)
	return bt
}

// Len returns the number of entries in the table
func (t *Table) Len() int {
	return t.count
}

// Cap returns the number of entries the table can hold
func (t *Table) Cap() int {
	return len(t.entries)
}

// Entries returns the current entries. The slice is only valid until the next Update.
func (t *Table) Entries() []Entry {
	return t.entries[:t.count]
}

// Find returns the entry containing addr
func (t *Table) Find(addr uint64) (*Entry, bool) {
	for i := 0; i < t.count; i++ {
		if t.entries[i].Contains(addr) {
			return &t.entries[i], true
		}
	}
	return nil, false
}

// FindTable returns the entry whose synthesized table is bt
func (t *Table) FindTable(bt *metadata.BlockTable) (*Entry, bool) {
	start := bt.Base().Base()
	end := bt.Base().Top()
	for i := 0; i < t.count; i++ {
		if t.entries[i].Start == start && t.entries[i].End == end {
			return &t.entries[i], true
		}
	}
	return nil, false
}
