package vm

import (
	"fmt"

	"github.com/inhies/go-bytesize"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
)

// GCType carries collector-specific flags for a mapping
type GCType uint32

const (
	// GCTypeManaged marks mappings that back the collector's own pools or bookkeeping. Pointers
	// into them are resolved by the collector's block tables, never through the mapping table.
	GCTypeManaged GCType = 1 << iota
)

// Entry describes one range of mapped pages
type Entry struct {
	Start  uint64
	End    uint64
	Prot   tagmem.Prot
	Kind   tagmem.Kind
	GCType GCType

	// Table tracks the pages of the range as a big block table with one page per slot, every slot
	// SlotUsed. It is synthesized by Table.Update, and is nil if the range cannot be tracked.
	Table *metadata.BlockTable
}

// Len returns the size of the range in bytes
func (e *Entry) Len() uint64 {
	return e.End - e.Start
}

// Contains returns true if addr lies inside the range
func (e *Entry) Contains(addr uint64) bool {
	return addr >= e.Start && addr < e.End
}

func (e *Entry) String() string {
	return fmt.Sprintf("0x%x-0x%x: p=%s sz=%s t=%s gt=0x%x bt=%t",
		e.Start, e.End, e.Prot, bytesize.New(float64(e.Len())), e.Kind, uint32(e.GCType), e.Table != nil)
}
