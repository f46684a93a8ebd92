package metadata

import (
	"strings"

	"github.com/munraj/cherigc/capability"
)

const (
	// LogBigSize is the base-2 logarithm of BigSize
	LogBigSize = 10
	// BigSize is the threshold for large objects: any request whose size rounds up to a power of two
	// at least this large is allocated from the big table, in whole slots of BigSize bytes
	BigSize = 1 << LogBigSize
	// LogMinSize is the base-2 logarithm of MinSize
	LogMinSize = LogBigSize - 6
	// MinSize is the smallest object size that a slab tracks. It is chosen so that the mark and
	// free bits for every object of a slab fit in a single 64-bit word. Smaller requests are rounded
	// up to MinSize.
	MinSize = 1 << LogMinSize

	// SlabSize is the size of a small table slot. Each slot holds a Block header followed by objects
	// of a single size class.
	SlabSize = BigSize
	// BlockHeaderSize is the size of the Block header stored at the start of each slab
	BlockHeaderSize = 48

	// ClassCount is the number of size class lists. Only classes LogMinSize through LogBigSize-1
	// are ever populated.
	ClassCount = LogBigSize
)

// SlotType is the two-bit code the type map holds for each slot of a BlockTable
type SlotType uint8

const (
	// SlotFree indicates that the slot is available for allocation
	SlotFree SlotType = iota
	// SlotUsed indicates that the slot holds the start of an object (big tables) or a Block
	// (small tables)
	SlotUsed
	// SlotContinuation indicates that the slot holds the continuation of the object starting in
	// the nearest preceding SlotUsed or SlotMarked slot
	SlotContinuation
	// SlotMarked is SlotUsed for an object that the current collection has found to be reachable
	SlotMarked
)

var slotTypeMapping = map[SlotType]string{
	SlotFree:         "FREE",
	SlotUsed:         "USED",
	SlotContinuation: "CONT",
	SlotMarked:       "MARKED",
}

func (t SlotType) String() string {
	return slotTypeMapping[t]
}

// TableFlags describe the flavor of a BlockTable
type TableFlags uint32

const (
	// TableSmall indicates that each slot of the table is a slab holding a Block header followed
	// by objects of a single size class
	TableSmall TableFlags = 1 << iota
)

// Status is the result of resolving a capability against a BlockTable. Exactly one of StatusFree,
// StatusUsed and StatusUnmanaged is set; StatusMarked and StatusRevoked refine StatusUsed.
type Status uint32

const (
	StatusFree Status = 1 << iota
	StatusUsed
	StatusUnmanaged
	StatusMarked
	StatusRevoked
)

var statusMapping = []struct {
	status Status
	name   string
}{
	{StatusFree, "FREE"},
	{StatusUsed, "USED"},
	{StatusUnmanaged, "UNMANAGED"},
	{StatusMarked, "MARKED"},
	{StatusRevoked, "REVOKED"},
}

func (s Status) String() string {
	var names []string
	for _, m := range statusMapping {
		if s&m.status != 0 {
			names = append(names, m.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

func (s Status) Free() bool      { return s&StatusFree != 0 }
func (s Status) Used() bool      { return s&StatusUsed != 0 }
func (s Status) Unmanaged() bool { return s&StatusUnmanaged != 0 }
func (s Status) Marked() bool    { return s&StatusMarked != 0 }
func (s Status) Revoked() bool   { return s&StatusRevoked != 0 }

// Resolution describes what a capability refers to inside a BlockTable
type Resolution struct {
	Status Status
	// Table is the table the capability was resolved against. It is nil when Status is
	// StatusUnmanaged.
	Table *BlockTable
	// SlotIndex is the index of the governing slot: the slab for small tables, or the head slot
	// of the object for big tables
	SlotIndex int
	// Block is the header of the governing slab. It is only valid for small tables.
	Block Block
	// BlockIndex is the index of the object inside the governing slab
	BlockIndex int
	// Object is a capability to the whole governing allocation. It is only valid when Status
	// is StatusUsed.
	Object capability.Capability
}
