package gc

import (
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dolthub/swiss"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/internal/utils"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"github.com/munraj/cherigc/vm"
	"github.com/munraj/cherigc/worklist"
	"golang.org/x/exp/slog"
)

// Phase is the stage an incremental collection has reached
type Phase int

const (
	// PhaseNone indicates that no collection is in progress
	PhaseNone Phase = iota
	// PhaseMark indicates that the collector is tracing from the roots
	PhaseMark
	// PhaseSweep indicates that tracing is complete and unmarked objects are being freed
	PhaseSweep
)

var phaseMapping = map[Phase]string{
	PhaseNone:  "None",
	PhaseMark:  "Mark",
	PhaseSweep: "Sweep",
}

func (p Phase) String() string {
	return phaseMapping[p]
}

type markEntry struct {
	cap capability.Capability
	// direct entries are scanned without being resolved: the range is known to be readable and
	// must be scanned whole
	direct bool
}

type span struct {
	start, end uint64
}

// Collector is a non-moving mark-sweep collector and allocator for tagged capability memory. Small
// objects are carved from slabs in a small block table, one size class per slab; big objects occupy
// runs of slots in a big block table. Liveness is found by tracing capabilities from a root set,
// a trusted stack, a native stack region and every mapping the collector does not manage.
//
// A Collector is safe for concurrent use unless it is created with CreateExternallySynchronized.
type Collector struct {
	logger      *slog.Logger
	space       *tagmem.Space
	mutex       utils.OptionalMutex
	createFlags CreateFlags
	destroyed   bool
	collecting  atomic.Bool

	smallPool *tagmem.Region
	bigPool   *tagmem.Region
	small     *metadata.BlockTable
	big       *metadata.BlockTable

	classes [metadata.ClassCount]blockList
	bigBump int

	markStack  *worklist.Stack[markEntry]
	sweepStack *worklist.Stack[*metadata.BlockTable]

	roots        *RootSet
	trustedStack []capability.Capability
	stack        *Stack

	vmTable     *vm.Table
	vmRefreshed bool
	scanned     mapset.Set[span]

	phase        Phase
	reusePending *swiss.Map[uint64, struct{}]

	stats      Stats
	lastDefect error
}

var _ memutils.Validatable = &Collector{}

// Resolve classifies ptr against the small and big tables. Pointers into neither pool resolve to
// StatusUnmanaged.
func (c *Collector) Resolve(ptr capability.Capability) metadata.Resolution {
	if c.small == nil {
		return metadata.Resolution{Status: metadata.StatusUnmanaged}
	}
	if res := c.small.Resolve(ptr); !res.Status.Unmanaged() {
		return res
	}
	return c.big.Resolve(ptr)
}

// SmallTable returns the block table of the small pool, or nil after Destroy
func (c *Collector) SmallTable() *metadata.BlockTable { return c.small }

// BigTable returns the block table of the big pool, or nil after Destroy
func (c *Collector) BigTable() *metadata.BlockTable { return c.big }

// VMTable returns the mapping table used to scan unmanaged memory. Its contents are only as fresh as
// the last collection or revocation.
func (c *Collector) VMTable() *vm.Table { return c.vmTable }

// Phase returns the stage the current collection has reached
func (c *Collector) Phase() Phase { return c.phase }

// Stats returns a copy of the collector's counters
func (c *Collector) Stats() Stats { return c.stats }

// Roots returns the root set. Capabilities held in it keep their objects alive.
func (c *Collector) Roots() *RootSet { return c.roots }

// Stack returns the native stack region, or nil if the collector was created without one
func (c *Collector) Stack() *Stack { return c.stack }

// SetTrustedStack replaces the capabilities of the trusted stack. They are treated as roots.
func (c *Collector) SetTrustedStack(caps []capability.Capability) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.trustedStack = append(c.trustedStack[:0], caps...)
}

// TrustedStack returns the capabilities of the trusted stack
func (c *Collector) TrustedStack() []capability.Capability { return c.trustedStack }

// ReusePending returns the number of objects released with Reuse that are waiting for their last
// reference to disappear
func (c *Collector) ReusePending() int { return c.reusePending.Count() }

func (c *Collector) stackRegion() *tagmem.Region {
	if c.stack == nil {
		return nil
	}
	return c.stack.region
}

func (c *Collector) tables() []*metadata.BlockTable {
	if c.small == nil {
		return nil
	}
	return []*metadata.BlockTable{c.small, c.big}
}

// Validate performs internal consistency checks on both block tables and every size class list
func (c *Collector) Validate() error {
	if c.destroyed {
		return ErrDestroyed
	}
	for _, table := range c.tables() {
		if err := table.Validate(); err != nil {
			return err
		}
	}
	for class := range c.classes {
		if err := c.classes[class].Validate(c.small); err != nil {
			return err
		}
	}
	return nil
}
