package tagmem_test

import (
	"testing"

	"github.com/munraj/cherigc/tagmem"
	"github.com/stretchr/testify/require"
)

func TestRangeMask(t *testing.T) {
	require.Equal(t, tagmem.Tags{Lo: ^uint64(0), Hi: ^uint64(0)}, tagmem.RangeMask(0, tagmem.GranulesPerPage))
	require.Equal(t, tagmem.Tags{Lo: 0b1100}, tagmem.RangeMask(2, 4))
	require.Equal(t, tagmem.Tags{Lo: 1 << 63, Hi: 1}, tagmem.RangeMask(63, 65))
	require.Equal(t, tagmem.Tags{Hi: ^uint64(0) &^ 1}, tagmem.RangeMask(65, 500))
	require.True(t, tagmem.RangeMask(10, 10).Empty())
	require.True(t, tagmem.RangeMask(-3, 0).Empty())
}

func TestTagsBits(t *testing.T) {
	var tags tagmem.Tags
	tags.Set(3)
	tags.Set(64)
	tags.Set(127)
	require.Equal(t, 3, tags.Count())
	require.True(t, tags.Test(64))
	require.False(t, tags.Test(65))

	require.Equal(t, 3, tags.Next(0))
	require.Equal(t, 64, tags.Next(4))
	require.Equal(t, 127, tags.Next(65))
	require.Equal(t, -1, tags.Next(128))

	tags.Clear(64)
	require.Equal(t, 127, tags.Next(4))
	require.Equal(t, tagmem.Tags{Lo: 1 << 3}, tags.And(tagmem.RangeMask(0, 64)))
}
