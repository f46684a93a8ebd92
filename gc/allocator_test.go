package gc_test

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"github.com/stretchr/testify/require"
)

func newCollector(t require.TestingT, cleanup func(func()), options gc.CreateOptions) (*gc.Collector, *tagmem.Space) {
	space := tagmem.NewSpace()
	c, err := gc.New(nil, space, options)
	require.NoError(t, err)

	cleanup(func() {
		require.NoError(t, c.Destroy())
		require.NoError(t, space.Close())
	})
	return c, space
}

func pattern(p uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], p)
	return b[:]
}

func TestAllocateRouting(t *testing.T) {
	c, _ := newCollector(t, t.Cleanup, gc.CreateOptions{})

	testCases := []struct {
		size       int
		small      bool
		objectSize uint64
	}{
		{size: 1, small: true, objectSize: 16},
		{size: 15, small: true, objectSize: 16},
		{size: 16, small: true, objectSize: 16},
		{size: 17, small: true, objectSize: 32},
		{size: 512, small: true, objectSize: 512},
		{size: 513, small: false, objectSize: 1024},
		{size: 1023, small: false, objectSize: 1024},
		{size: 1024, small: false, objectSize: 1024},
		{size: 1025, small: false, objectSize: 2048},
		{size: 3000, small: false, objectSize: 3072},
	}

	for _, tc := range testCases {
		obj, err := c.Allocate(tc.size)
		require.NoError(t, err)
		require.True(t, obj.Tag())
		require.Equal(t, uint64(tc.size), obj.Length())
		require.Zero(t, obj.Offset())

		res := c.Resolve(obj)
		require.Equal(t, metadata.StatusUsed, res.Status, "size %d", tc.size)
		require.Equal(t, tc.objectSize, res.Object.Length(), "size %d", tc.size)
		require.Equal(t, obj.Base(), res.Object.Base())
		if tc.small {
			require.Same(t, c.SmallTable(), res.Table)
		} else {
			require.Same(t, c.BigTable(), res.Table)
		}
	}

	stats := c.Stats()
	require.Equal(t, len(testCases), stats.Allocations)
	require.Equal(t, 5, stats.BigAllocations)
	require.Equal(t, 3, stats.ClassAllocations[4])
	require.Equal(t, 1, stats.ClassAllocations[5])
	require.Equal(t, 1, stats.ClassAllocations[9])
	require.NoError(t, c.Validate())
}

func TestAllocateRejectsEmpty(t *testing.T) {
	c, _ := newCollector(t, t.Cleanup, gc.CreateOptions{})

	_, err := c.Allocate(0)
	require.Error(t, err)
	_, err = c.Allocate(-5)
	require.Error(t, err)
}

func TestAllocateFill(t *testing.T) {
	c, space := newCollector(t, t.Cleanup, gc.CreateOptions{})

	obj, err := c.Allocate(17)
	require.NoError(t, err)

	payload, err := space.Read(obj.Base(), 16)
	require.NoError(t, err)
	for i := 0; i < 16; i += 4 {
		require.Equal(t, pattern(memutils.FillAllocated), payload[i:i+4])
	}

	padding, err := space.Read(obj.Base()+17, 15)
	require.NoError(t, err)
	require.Equal(t, pattern(memutils.FillPadding), padding[:4])
	require.Equal(t, pattern(memutils.FillPadding)[:3], padding[12:15])
}

func TestAllocateSlabs(t *testing.T) {
	c, _ := newCollector(t, t.Cleanup, gc.CreateOptions{})

	// 1024-byte slabs hold 64 objects of 16 bytes, of which the first 3 overlap the header
	first, err := c.Allocate(16)
	require.NoError(t, err)
	firstRes := c.Resolve(first)
	require.Equal(t, 3, firstRes.BlockIndex)

	for i := 0; i < 60; i++ {
		obj, err := c.Allocate(16)
		require.NoError(t, err)
		require.Equal(t, firstRes.SlotIndex, c.Resolve(obj).SlotIndex)
	}

	obj, err := c.Allocate(16)
	require.NoError(t, err)
	res := c.Resolve(obj)
	require.NotEqual(t, firstRes.SlotIndex, res.SlotIndex)
	require.Equal(t, 3, res.BlockIndex)
	require.NoError(t, c.Validate())
}

func TestAllocateOutOfMemory(t *testing.T) {
	c, _ := newCollector(t, t.Cleanup, gc.CreateOptions{
		SmallPoolSize: tagmem.PageSize,
		BigPoolSize:   tagmem.PageSize,
	})

	var held []int
	for i := 0; i < 4; i++ {
		obj, err := c.Allocate(1024)
		require.NoError(t, err)
		held = append(held, c.Roots().Add(obj))
	}

	_, err := c.Allocate(1024)
	require.True(t, errors.Is(err, gc.ErrOutOfMemory))
	require.Equal(t, 1, c.Stats().Cycles)

	// Dropping a root makes room, which the allocator finds by collecting
	c.Roots().Remove(held[0])
	obj, err := c.Allocate(1024)
	require.NoError(t, err)
	require.True(t, c.Resolve(obj).Status.Used())
	require.Equal(t, 2, c.Stats().Cycles)
}

func TestBuildStatsString(t *testing.T) {
	c, _ := newCollector(t, t.Cleanup, gc.CreateOptions{})

	_, err := c.Allocate(24)
	require.NoError(t, err)
	_, err = c.Allocate(5000)
	require.NoError(t, err)

	for _, detailed := range []bool{false, true} {
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(c.BuildStatsString(detailed)), &doc))
		require.Contains(t, doc, "Counters")
		require.Contains(t, doc, "Classes")

		counters := doc["Counters"].(map[string]any)
		require.Equal(t, float64(2), counters["Allocations"])
	}
}

func TestCreateOptionsValidation(t *testing.T) {
	space := tagmem.NewSpace()
	defer space.Close()

	_, err := gc.New(nil, space, gc.CreateOptions{SweepStackSize: 1})
	require.Error(t, err)
	require.Empty(t, space.Regions())
}

func TestDestroy(t *testing.T) {
	space := tagmem.NewSpace()
	defer space.Close()

	c, err := gc.New(nil, space, gc.CreateOptions{StackSize: -1})
	require.NoError(t, err)
	require.Len(t, space.Regions(), 2)
	require.Nil(t, c.Stack())

	require.NoError(t, c.Destroy())
	require.Empty(t, space.Regions())

	_, err = c.Allocate(16)
	require.True(t, errors.Is(err, gc.ErrDestroyed))
	require.True(t, errors.Is(c.Collect(), gc.ErrDestroyed))
}

func TestResolveAfterDestroy(t *testing.T) {
	space := tagmem.NewSpace()
	defer space.Close()

	c, err := gc.New(nil, space, gc.CreateOptions{})
	require.NoError(t, err)

	small, err := c.Allocate(64)
	require.NoError(t, err)
	big, err := c.Allocate(5000)
	require.NoError(t, err)
	require.True(t, c.Resolve(small).Status.Used())

	require.NoError(t, c.Destroy())
	require.Nil(t, c.SmallTable())
	require.Nil(t, c.BigTable())

	for _, ptr := range []capability.Capability{small, big} {
		require.Equal(t, metadata.StatusUnmanaged, c.Resolve(ptr).Status)
	}

	var stats memutils.DetailedStatistics
	c.CalculateDetailedStatistics(&stats)
	require.Zero(t, stats.AllocationCount)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.BuildStatsString(true)), &doc))
	require.NotContains(t, doc, "Small")
	require.True(t, errors.Is(c.Validate(), gc.ErrDestroyed))

	// A second Destroy has nothing left to unmap
	require.NoError(t, c.Destroy())
}
