package workload_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/internal/workload"
	"github.com/munraj/cherigc/tagmem"
	"github.com/stretchr/testify/require"
)

func newCollector(t *testing.T, options gc.CreateOptions) (*gc.Collector, *tagmem.Space) {
	space := tagmem.NewSpace()
	c, err := gc.New(nil, space, options)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Destroy())
		require.NoError(t, space.Close())
	})
	return c, space
}

func TestLinkedListSurvivesCollection(t *testing.T) {
	c, space := newCollector(t, gc.CreateOptions{})

	list, err := workload.NewLinkedList(nil, c, space, workload.LinkedListOptions{})
	require.NoError(t, err)
	require.NoError(t, list.Build())
	require.NoError(t, list.Check())

	require.NoError(t, c.Collect())
	require.Equal(t, 10, c.Stats().Marked)
	require.Equal(t, 30, c.Stats().Swept)
	require.NoError(t, list.Check())

	require.NoError(t, list.Release())
	require.NoError(t, c.Collect())
	require.Equal(t, 10, c.Stats().Swept)
	require.Zero(t, c.Stats().Allocations)
	require.Error(t, list.Check())
}

func TestLinkedListCollectsWhileBuilding(t *testing.T) {
	c, space := newCollector(t, gc.CreateOptions{BigPoolSize: 64 * 1024})

	list, err := workload.NewLinkedList(nil, c, space, workload.LinkedListOptions{Nodes: 25})
	require.NoError(t, err)
	require.NoError(t, list.Build())
	require.Positive(t, c.Stats().Cycles)
	require.NoError(t, list.Check())
	require.NoError(t, c.Validate())
}

func TestLinkedListDetectsCorruption(t *testing.T) {
	c, space := newCollector(t, gc.CreateOptions{})

	list, err := workload.NewLinkedList(nil, c, space, workload.LinkedListOptions{Nodes: 3, JunkSize: -1})
	require.NoError(t, err)
	require.NoError(t, list.Build())

	head, err := space.LoadCap(c.Stack().Region().Start())
	require.NoError(t, err)
	second, err := space.Load(head, tagmem.GranuleSize)
	require.NoError(t, err)
	require.NoError(t, space.Store(second, 0, capability.Capability{}))

	err = list.Check()
	require.True(t, errors.Is(err, workload.ErrCorrupt))
}

func TestLinkedListRequiresStack(t *testing.T) {
	c, space := newCollector(t, gc.CreateOptions{StackSize: -1})

	_, err := workload.NewLinkedList(nil, c, space, workload.LinkedListOptions{})
	require.Error(t, err)
}
