package workload

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/tagmem"
	"golang.org/x/exp/slog"
)

// ErrCorrupt is returned by LinkedList.Check when the list does not hold what Build stored in it
var ErrCorrupt = errors.New("linked list is corrupt")

// Each node holds a capability to the previous node, a capability to the next node, and a payload
// derived from its position and address
const (
	prevOffset    = 0
	nextOffset    = tagmem.GranuleSize
	payloadOffset = 2 * tagmem.GranuleSize
)

const (
	defaultNodes    = 10
	defaultNodeSize = 200
	defaultJunkSize = 10000
	defaultJunkFill = 0x0BADDEAD
)

// LinkedListOptions configures a LinkedList. It is valid to leave all the fields blank.
type LinkedListOptions struct {
	// Nodes is the length of the list
	Nodes int
	// NodeSize is the size of the allocation for each node. It is raised to fit the node's two
	// capabilities if necessary.
	NodeSize int
	// JunkSize is the size of the garbage allocations made around each node
	JunkSize int
	// JunkFill is the pattern garbage allocations are filled with
	JunkFill uint32
}

// LinkedList builds a doubly linked list whose head is held on the collector's stack, with
// unreferenced garbage allocated around every node, and then checks that collections preserved
// the list
type LinkedList struct {
	logger    *slog.Logger
	collector *gc.Collector
	space     *tagmem.Space
	options   LinkedListOptions

	head  uint64
	built bool
}

// NewLinkedList creates a workload for collector. The collector must have a stack.
func NewLinkedList(logger *slog.Logger, collector *gc.Collector, space *tagmem.Space, options LinkedListOptions) (*LinkedList, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if collector.Stack() == nil {
		return nil, errors.New("the linked list workload requires a collector stack")
	}

	if options.Nodes == 0 {
		options.Nodes = defaultNodes
	}
	if options.NodeSize == 0 {
		options.NodeSize = defaultNodeSize
	}
	if options.JunkSize == 0 {
		options.JunkSize = defaultJunkSize
	}
	if options.JunkFill == 0 {
		options.JunkFill = defaultJunkFill
	}
	options.NodeSize = max(options.NodeSize, payloadOffset)
	options.JunkSize &^= 3

	return &LinkedList{
		logger:    logger,
		collector: collector,
		space:     space,
		options:   options,
	}, nil
}

// Options returns the effective options of the workload
func (l *LinkedList) Options() LinkedListOptions {
	return l.options
}

func payloadHash(i, j int, node, prev capability.Capability) byte {
	return byte((uint64(i) + uint64(j) + node.Base() + prev.Base()) >> uint(j))
}

func (l *LinkedList) payload(i int, node, prev capability.Capability) []byte {
	payload := make([]byte, l.options.NodeSize-payloadOffset)
	for j := range payload {
		payload[j] = payloadHash(i, j, node, prev)
	}
	return payload
}

func (l *LinkedList) allocateJunk() error {
	if l.options.JunkSize <= 0 {
		return nil
	}
	junk, err := l.collector.Allocate(l.options.JunkSize)
	if err != nil {
		return errors.Wrap(err, "junk allocation failed")
	}
	return l.space.Fill(junk.Base(), l.options.JunkSize, l.options.JunkFill)
}

// Build allocates the list. Each node is stored into its predecessor, or into the stack for the
// head, as soon as it is allocated.
func (l *LinkedList) Build() error {
	if l.built {
		return errors.New("linked list has already been built")
	}

	var err error
	l.head, err = l.collector.Stack().Push(capability.Capability{})
	if err != nil {
		return err
	}
	l.built = true

	holder := capability.New(l.head, tagmem.GranuleSize)
	holderOffset := uint64(0)
	var prev capability.Capability
	for i := 0; i < l.options.Nodes; i++ {
		if err := l.allocateJunk(); err != nil {
			return err
		}

		node, err := l.collector.Allocate(l.options.NodeSize)
		if err != nil {
			return errors.Wrapf(err, "node %d allocation failed", i)
		}
		if err := l.space.Store(holder, holderOffset, node); err != nil {
			return err
		}

		if err := l.allocateJunk(); err != nil {
			return err
		}

		if err := l.space.Store(node, prevOffset, prev); err != nil {
			return err
		}
		if err := l.space.Write(node.Base()+payloadOffset, l.payload(i, node, prev)); err != nil {
			return err
		}
		l.logger.Debug("linked list node", slog.Int("index", i), slog.String("node", node.String()))

		prev = node
		holder = node
		holderOffset = nextOffset

		if err := l.allocateJunk(); err != nil {
			return err
		}
	}
	return nil
}

// Check walks the list from the head and verifies every link and payload
func (l *LinkedList) Check() error {
	if !l.built {
		return errors.New("linked list has not been built")
	}

	node, err := l.space.LoadCap(l.head)
	if err != nil {
		return err
	}

	var prev capability.Capability
	for i := 0; i < l.options.Nodes; i++ {
		if !node.Tag() {
			return errors.Wrapf(ErrCorrupt, "node %d is not a valid capability", i)
		}
		if !l.collector.Resolve(node).Status.Used() {
			return errors.Wrapf(ErrCorrupt, "node %d at 0x%x was freed", i, node.Base())
		}

		storedPrev, err := l.space.Load(node, prevOffset)
		if err != nil {
			return err
		}
		if storedPrev.Tag() != prev.Tag() || storedPrev.Base() != prev.Base() {
			return errors.Wrapf(ErrCorrupt, "node %d: stored prev %s, actual prev %s", i, storedPrev, prev)
		}

		payload, err := l.space.Read(node.Base()+payloadOffset, l.options.NodeSize-payloadOffset)
		if err != nil {
			return err
		}
		for j, b := range payload {
			if want := payloadHash(i, j, node, prev); b != want {
				return errors.Wrapf(ErrCorrupt, "node %d payload byte %d: expected 0x%x, actual 0x%x", i, j, want, b)
			}
		}

		next, err := l.space.Load(node, nextOffset)
		if err != nil {
			return err
		}
		prev = node
		node = next
	}

	if node.Tag() {
		return errors.Wrapf(ErrCorrupt, "list continues past %d nodes", l.options.Nodes)
	}
	return nil
}

// Release drops the list's head from the stack so that the next collection frees every node
func (l *LinkedList) Release() error {
	if !l.built {
		return nil
	}
	return l.space.ClearTag(l.head)
}
