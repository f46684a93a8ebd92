package metadata_test

import (
	"math"
	"testing"

	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTable(t require.TestingT, cleanup func(func()), size int, slotSize int, flags metadata.TableFlags) *metadata.BlockTable {
	space := tagmem.NewSpace()
	cleanup(func() { _ = space.Close() })

	region, err := space.Map(size, tagmem.ProtReadWrite, tagmem.KindPool)
	require.NoError(t, err)

	table, err := metadata.NewBlockTable(space, region.Capability(), slotSize, flags)
	require.NoError(t, err)
	return table
}

func TestTypeMapPacking(t *testing.T) {
	table := newTable(t, t.Cleanup, 8*metadata.BigSize, metadata.BigSize, 0)
	require.Equal(t, 8, table.SlotCount())

	table.SetCode(0, metadata.SlotUsed)
	table.SetRange(1, 3, metadata.SlotContinuation)
	table.SetCode(3, metadata.SlotMarked)
	table.SetCode(5, metadata.SlotUsed)

	require.Equal(t, []metadata.SlotType{
		metadata.SlotUsed, metadata.SlotContinuation, metadata.SlotContinuation, metadata.SlotMarked,
		metadata.SlotFree, metadata.SlotUsed, metadata.SlotFree, metadata.SlotFree,
	}, []metadata.SlotType{
		table.Code(0), table.Code(1), table.Code(2), table.Code(3),
		table.Code(4), table.Code(5), table.Code(6), table.Code(7),
	})

	require.Equal(t, 3, table.ObjectSlots(0))
	require.Equal(t, 1, table.ObjectSlots(3))
	require.Equal(t, 6, table.FindFreeRun(2, 0))
	require.Equal(t, 4, table.FindFreeRun(1, 0))
	require.Equal(t, -1, table.FindFreeRun(3, 0))
	require.NoError(t, table.Validate())

	table.SetCode(7, metadata.SlotContinuation)
	require.Error(t, table.Validate())

	table.Clear()
	require.Equal(t, 0, table.FindFreeRun(8, 0))
}

func TestResolveBig(t *testing.T) {
	table := newTable(t, t.Cleanup, 8*metadata.BigSize, metadata.BigSize, 0)
	table.SetCode(2, metadata.SlotUsed)
	table.SetRange(3, 5, metadata.SlotContinuation)

	head := table.SlotCapability(2, 3)
	interior := head.IncBase(2*metadata.BigSize + 100).SetLen(8)

	res := table.Resolve(interior)
	require.Equal(t, metadata.StatusUsed, res.Status)
	require.Equal(t, 2, res.SlotIndex)
	require.Equal(t, head, res.Object)
	require.Equal(t, head, table.Resolve(head).Object)

	require.True(t, table.Mark(res))
	res = table.Resolve(interior)
	require.Equal(t, metadata.StatusUsed|metadata.StatusMarked, res.Status)
	require.False(t, table.Mark(res))
	require.Equal(t, "USED|MARKED", res.Status.String())

	table.Revoke(res)
	require.True(t, table.Resolve(head).Status.Revoked())

	require.Equal(t, metadata.StatusFree, table.Resolve(table.SlotCapability(5, 1)).Status)
	require.Equal(t, metadata.StatusUnmanaged, table.Resolve(capability.New(table.Base().Top(), 8)).Status)
	require.Equal(t, metadata.StatusUnmanaged, table.Resolve(capability.New(table.Base().Base()-1, 8)).Status)

	table.Release(res)
	require.Equal(t, -1, table.FindFreeRun(9, 0))
	require.Equal(t, 0, table.FindFreeRun(8, 0))
	require.False(t, table.Revoked(2))
}

func TestResolveOrphanContinuation(t *testing.T) {
	table := newTable(t, t.Cleanup, 4*metadata.BigSize, metadata.BigSize, 0)
	table.SetRange(0, 2, metadata.SlotContinuation)

	res := table.Resolve(table.SlotCapability(1, 1))
	require.Equal(t, metadata.StatusUnmanaged, res.Status)
	require.Nil(t, res.Table)
}

func TestResolveSmall(t *testing.T) {
	table := newTable(t, t.Cleanup, 4*metadata.SlabSize, metadata.SlabSize, metadata.TableSmall)

	table.SetCode(1, metadata.SlotUsed)
	blk := table.Block(1)
	blk.Init(64)
	require.Equal(t, 16, blk.ObjectCount())
	require.Equal(t, 1, blk.HeaderBits())
	require.Equal(t, uint64(0xfffe), blk.Free())

	// Take object 3
	blk.SetFree(blk.Free() &^ (1 << 3))
	obj := table.Base().Narrow(metadata.SlabSize+3*64, 40)

	res := table.Resolve(obj.IncBase(17))
	require.Equal(t, metadata.StatusUsed, res.Status)
	require.Equal(t, 1, res.SlotIndex)
	require.Equal(t, 3, res.BlockIndex)
	require.Equal(t, blk, res.Block)
	require.Equal(t, uint64(64), res.Object.Length())
	require.Equal(t, obj.Base(), res.Object.Base())

	require.True(t, table.Mark(res))
	require.Equal(t, uint64(1<<3), blk.Marks())
	require.True(t, table.Resolve(obj).Status.Marked())
	require.False(t, table.Mark(table.Resolve(obj)))

	// The header and free objects are free
	require.Equal(t, metadata.StatusFree, table.Resolve(table.Base().Narrow(metadata.SlabSize+8, 8)).Status)
	require.Equal(t, metadata.StatusFree, table.Resolve(table.Base().Narrow(metadata.SlabSize+4*64, 8)).Status)
	require.Equal(t, metadata.StatusFree, table.Resolve(table.SlotCapability(2, 1)).Status)

	require.NoError(t, table.Validate())
	blk.SetFree(blk.Free() | (1 << 3))
	require.Error(t, table.Validate())
	blk.SetFree(blk.Free() &^ (1 << 3))

	table.Release(table.Resolve(obj))
	require.Equal(t, uint64(0xfffe), blk.Free())
	require.Equal(t, uint64(0), blk.Marks())
}

func TestBlockHeaderBits(t *testing.T) {
	table := newTable(t, t.Cleanup, metadata.SlabSize*4, metadata.SlabSize, metadata.TableSmall)

	for class := metadata.LogMinSize; class < metadata.LogBigSize; class++ {
		blk := table.Block(0)
		blk.Init(1 << class)
		hdr := memutils.DivRoundUp(metadata.BlockHeaderSize, 1<<class)
		require.Equal(t, hdr, blk.HeaderBits())
		require.Equal(t, memutils.LowMask(metadata.SlabSize>>class)&^memutils.LowMask(hdr), blk.ValidMask())
	}

	blk := table.Block(0)
	blk.Init(metadata.MinSize)
	require.Equal(t, ^uint64(0)&^0b111, blk.ValidMask())
}

func TestSmallRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		table := newTable(rt, t.Cleanup, 2*metadata.SlabSize, metadata.SlabSize, metadata.TableSmall)
		class := rapid.IntRange(metadata.LogMinSize, metadata.LogBigSize-1).Draw(rt, "class")
		size := 1 << class

		table.SetCode(0, metadata.SlotUsed)
		blk := table.Block(0)
		blk.Init(size)

		idx := rapid.IntRange(blk.HeaderBits(), blk.ObjectCount()-1).Draw(rt, "idx")
		blk.SetFree(blk.Free() &^ (uint64(1) << idx))

		obj := table.Base().Narrow(uint64(idx*size), uint64(size))
		off := rapid.IntRange(0, size-1).Draw(rt, "off")

		want := table.Resolve(obj)
		got := table.Resolve(obj.IncBase(uint64(off)))
		if want.Status != metadata.StatusUsed || got.Object != want.Object {
			rt.Fatalf("interior pointer at +%d resolved to %s, want %s", off, got.Object, want.Object)
		}
	})
}

func TestTagCache(t *testing.T) {
	table := newTable(t, t.Cleanup, 2*tagmem.PageSize, metadata.BigSize, 0)
	space := table.Space()
	base := table.Base().Base()

	_, ok := table.CachedPageTags(base)
	require.False(t, ok)

	require.NoError(t, space.StoreCap(base+tagmem.GranuleSize, table.Base()))
	tags, err := table.PageTags(base)
	require.NoError(t, err)
	require.Equal(t, tagmem.Tags{Lo: 2}, tags)

	// The cache is stale until refreshed
	require.NoError(t, space.StoreCap(base, table.Base()))
	tags, err = table.PageTags(base)
	require.NoError(t, err)
	require.Equal(t, tagmem.Tags{Lo: 2}, tags)

	table.ClearCachedTag(base + tagmem.GranuleSize)
	tags, ok = table.CachedPageTags(base)
	require.True(t, ok)
	require.True(t, tags.Empty())

	table.InvalidateTags()
	tags, err = table.PageTags(base + 17)
	require.NoError(t, err)
	require.Equal(t, tagmem.Tags{Lo: 3}, tags)

	_, err = table.PageTags(table.Base().Top())
	require.Error(t, err)
}

func TestStatistics(t *testing.T) {
	table := newTable(t, t.Cleanup, 8*metadata.BigSize, metadata.BigSize, 0)
	table.SetCode(1, metadata.SlotUsed)
	table.SetRange(2, 4, metadata.SlotContinuation)
	table.SetCode(6, metadata.SlotUsed)

	var stats memutils.DetailedStatistics
	stats.Clear()
	table.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      4,
			BlockBytes:      4 * metadata.BigSize,
			AllocationCount: 2,
			AllocationBytes: 4 * metadata.BigSize,
		},
		UnusedRangeCount:   3,
		AllocationSizeMin:  metadata.BigSize,
		AllocationSizeMax:  3 * metadata.BigSize,
		UnusedRangeSizeMin: metadata.BigSize,
		UnusedRangeSizeMax: 2 * metadata.BigSize,
	}, stats)

	var simple memutils.Statistics
	table.AddStatistics(&simple)
	require.Equal(t, stats.Statistics, simple)

	var empty memutils.DetailedStatistics
	empty.Clear()
	require.Equal(t, math.MaxInt, empty.AllocationSizeMin)
}
