package metadata_test

import (
	"testing"

	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/stretchr/testify/require"
)

func TestAllocationRequestRouting(t *testing.T) {
	for _, tc := range []struct {
		size    int
		reqType metadata.AllocationRequestType
		class   int
		slots   int
		rounded int
	}{
		{size: 1, reqType: metadata.AllocationRequestSmall, class: metadata.LogMinSize, rounded: metadata.MinSize},
		{size: metadata.MinSize - 1, reqType: metadata.AllocationRequestSmall, class: metadata.LogMinSize, rounded: metadata.MinSize},
		{size: metadata.MinSize, reqType: metadata.AllocationRequestSmall, class: metadata.LogMinSize, rounded: metadata.MinSize},
		{size: 64, reqType: metadata.AllocationRequestSmall, class: 6, rounded: 64},
		{size: 512, reqType: metadata.AllocationRequestSmall, class: 9, rounded: 512},
		{size: 513, reqType: metadata.AllocationRequestBig, slots: 1, rounded: metadata.BigSize},
		{size: metadata.BigSize - 1, reqType: metadata.AllocationRequestBig, slots: 1, rounded: metadata.BigSize},
		{size: metadata.BigSize, reqType: metadata.AllocationRequestBig, slots: 1, rounded: metadata.BigSize},
		{size: 3 * metadata.BigSize, reqType: metadata.AllocationRequestBig, slots: 3, rounded: 3 * metadata.BigSize},
		{size: 2*metadata.BigSize + 1, reqType: metadata.AllocationRequestBig, slots: 3, rounded: 3 * metadata.BigSize},
	} {
		req, err := metadata.NewAllocationRequest(tc.size)
		require.NoError(t, err)
		require.Equal(t, tc.reqType, req.Type, "size %d", tc.size)
		require.Equal(t, tc.rounded, req.RoundedSize, "size %d", tc.size)
		if tc.reqType == metadata.AllocationRequestSmall {
			require.Equal(t, tc.class, req.Class, "size %d", tc.size)
		} else {
			require.Equal(t, tc.slots, req.SlotCount, "size %d", tc.size)
		}
	}

	_, err := metadata.NewAllocationRequest(0)
	require.Error(t, err)
	_, err = metadata.NewAllocationRequest(-5)
	require.Error(t, err)
}

func TestStrategyString(t *testing.T) {
	require.Equal(t, "Bump", metadata.AllocationStrategyBump.String())
	require.Equal(t, "Scan|AfterCollect", (metadata.AllocationStrategyScan | metadata.AllocationStrategyAfterCollect).String())
	require.Equal(t, "Big", metadata.AllocationRequestBig.String())
}
