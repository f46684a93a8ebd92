package gc

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dolthub/swiss"
	"github.com/munraj/cherigc/internal/utils"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"github.com/munraj/cherigc/vm"
	"github.com/munraj/cherigc/worklist"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific collector behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that the collector will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time. Nested collections
	// are still refused.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	var names []string
	for flag, name := range createFlagsMapping {
		if f&flag != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

const (
	// defaultSmallPoolSize is the value used as SmallPoolSize when none is provided via
	// CreateOptions. It is equal to 256 slabs.
	defaultSmallPoolSize int = 256 * metadata.SlabSize
	// defaultBigPoolSize is the value used as BigPoolSize when none is provided via CreateOptions.
	// It is equal to 1Mb.
	defaultBigPoolSize    int = 1024 * 1024
	defaultMarkStackSize  int = 4096
	defaultSweepStackSize int = 4
	defaultVMTableSize    int = 64
	defaultStackSize      int = 64 * 1024
)

// CreateOptions contains optional settings when creating a collector. It is valid to leave all the
// fields blank.
type CreateOptions struct {
	// Flags indicates specific collector behaviors to activate or deactivate
	Flags CreateFlags
	// SmallPoolSize is the size in bytes of the pool backing the small table. It is rounded up to a
	// whole number of pages.
	SmallPoolSize int
	// BigPoolSize is the size in bytes of the pool backing the big table. It is rounded up to a
	// whole number of pages.
	BigPoolSize int
	// MarkStackSize is the number of entries the mark worklist can hold
	MarkStackSize int
	// SweepStackSize is the number of entries the sweep worklist can hold. It must be at least 2.
	SweepStackSize int
	// VMTableSize is the number of mappings the mapping table can hold
	VMTableSize int
	// StackSize is the size in bytes of the native stack region. A negative value creates no stack.
	StackSize int

	// Source reports the mappings used to scan memory outside the collector's pools. If it is nil,
	// the regions of the collector's tagmem.Space are reported.
	Source vm.Source `toml:"-"`
}

// New creates a collector whose pools are mapped into space
//
// logger - Receives the collector's diagnostics. If nil, diagnostics are discarded.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, space *tagmem.Space, options CreateOptions) (*Collector, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	options = options.WithDefaults()
	smallPoolSize := options.SmallPoolSize
	bigPoolSize := options.BigPoolSize
	markStackSize := options.MarkStackSize
	sweepStackSize := options.SweepStackSize
	vmTableSize := options.VMTableSize
	stackSize := options.StackSize

	if sweepStackSize < 2 {
		return nil, errors.Newf("gc.CreateOptions.SweepStackSize must be at least 2, but was %d", sweepStackSize)
	}

	c := &Collector{
		logger:      logger,
		space:       space,
		mutex:       utils.OptionalMutex{UseMutex: options.Flags&CreateExternallySynchronized == 0},
		createFlags: options.Flags,

		markStack:    worklist.NewStack[markEntry](markStackSize),
		sweepStack:   worklist.NewStack[*metadata.BlockTable](sweepStackSize),
		roots:        &RootSet{},
		scanned:      mapset.NewThreadUnsafeSet[span](),
		reusePending: swiss.NewMap[uint64, struct{}](64),
	}

	for class := range c.classes {
		c.classes[class].Init(class)
	}

	var err error
	c.smallPool, err = space.Map(memutils.AlignUp(smallPoolSize, tagmem.PageSize), tagmem.ProtReadWrite, tagmem.KindPool)
	if err != nil {
		return nil, errors.Wrap(err, "could not map the small pool")
	}
	c.small, err = metadata.NewBlockTable(space, c.smallPool.Capability(), metadata.SlabSize, metadata.TableSmall)
	if err != nil {
		return nil, errors.CombineErrors(err, c.Destroy())
	}

	c.bigPool, err = space.Map(memutils.AlignUp(bigPoolSize, tagmem.PageSize), tagmem.ProtReadWrite, tagmem.KindPool)
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrap(err, "could not map the big pool"), c.Destroy())
	}
	c.big, err = metadata.NewBlockTable(space, c.bigPool.Capability(), metadata.BigSize, 0)
	if err != nil {
		return nil, errors.CombineErrors(err, c.Destroy())
	}

	if stackSize > 0 {
		region, err := space.Map(stackSize, tagmem.ProtReadWrite, tagmem.KindStack)
		if err != nil {
			return nil, errors.CombineErrors(errors.Wrap(err, "could not map the stack"), c.Destroy())
		}
		c.stack = newStack(space, region)
	}

	source := options.Source
	if source == nil {
		source = vm.NewSpaceSource(space)
	}
	c.vmTable = vm.NewTable(logger, space, source, vmTableSize)

	logger.Debug("collector created",
		slog.String("smallPool", c.small.Base().String()),
		slog.String("bigPool", c.big.Base().String()),
		slog.Int("markStack", markStackSize),
		slog.String("flags", options.Flags.String()),
	)

	return c, nil
}

// WithDefaults returns a copy of the options with every unset size replaced by the value New
// would use
func (o CreateOptions) WithDefaults() CreateOptions {
	o.SmallPoolSize = withDefault(o.SmallPoolSize, defaultSmallPoolSize)
	o.BigPoolSize = withDefault(o.BigPoolSize, defaultBigPoolSize)
	o.MarkStackSize = withDefault(o.MarkStackSize, defaultMarkStackSize)
	o.SweepStackSize = withDefault(o.SweepStackSize, defaultSweepStackSize)
	o.VMTableSize = withDefault(o.VMTableSize, defaultVMTableSize)
	o.StackSize = withDefault(o.StackSize, defaultStackSize)
	return o
}

func withDefault(value, def int) int {
	if value == 0 {
		return def
	}
	return value
}

// Destroy unmaps the collector's pools and stack. Every capability into them becomes dangling, and
// the collector can no longer be used. Afterward Resolve reports every pointer as unmanaged and the
// statistics describe empty tables.
func (c *Collector) Destroy() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var err error
	for _, region := range []*tagmem.Region{c.smallPool, c.bigPool, c.stackRegion()} {
		if region != nil {
			err = errors.CombineErrors(err, c.space.Unmap(region))
		}
	}
	c.smallPool = nil
	c.bigPool = nil
	c.small = nil
	c.big = nil
	for class := range c.classes {
		c.classes[class].Init(class)
	}
	c.stack = nil
	c.destroyed = true
	return err
}
