package vm_test

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/capability"
	"github.com/munraj/cherigc/memutils/metadata"
	"github.com/munraj/cherigc/tagmem"
	"github.com/munraj/cherigc/vm"
	mock_vm "github.com/munraj/cherigc/vm/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSpaceSource(t *testing.T) {
	space := tagmem.NewSpace()
	defer space.Close()

	pool, err := space.Map(4*tagmem.PageSize, tagmem.ProtReadWrite, tagmem.KindPool)
	require.NoError(t, err)
	anon, err := space.Map(2*tagmem.PageSize, tagmem.ProtRead, tagmem.KindAnonymous)
	require.NoError(t, err)

	table := vm.NewTable(discardLogger(), space, vm.NewSpaceSource(space), 4)
	require.NoError(t, table.Update())
	require.Equal(t, 2, table.Len())

	e, ok := table.Find(anon.Start() + tagmem.PageSize + 5)
	require.True(t, ok)
	require.Equal(t, anon.Start(), e.Start)
	require.Equal(t, anon.End(), e.End)
	require.Equal(t, tagmem.ProtRead, e.Prot)
	require.Zero(t, e.GCType)
	require.NotNil(t, e.Table)
	require.Equal(t, 2, e.Table.SlotCount())
	require.Equal(t, metadata.SlotUsed, e.Table.Code(1))

	res := e.Table.Resolve(capability.New(anon.Start()+tagmem.PageSize+64, 8))
	require.Equal(t, metadata.StatusUsed, res.Status)
	require.Equal(t, uint64(anon.Start()+tagmem.PageSize), res.Object.Base())
	require.Equal(t, uint64(tagmem.PageSize), res.Object.Length())

	found, ok := table.FindTable(e.Table)
	require.True(t, ok)
	require.Same(t, e, found)

	e, ok = table.Find(pool.Start())
	require.True(t, ok)
	require.Equal(t, vm.GCTypeManaged, e.GCType)

	_, ok = table.Find(pool.End())
	require.False(t, ok)

	// Synthesized tables survive an update that leaves their range alone
	bt := e.Table
	require.NoError(t, table.Update())
	e, _ = table.Find(pool.Start())
	require.Same(t, bt, e.Table)
}

func TestSpaceSourceTooSmall(t *testing.T) {
	space := tagmem.NewSpace()
	defer space.Close()

	for i := 0; i < 3; i++ {
		_, err := space.Map(tagmem.PageSize, tagmem.ProtReadWrite, tagmem.KindAnonymous)
		require.NoError(t, err)
	}

	table := vm.NewTable(discardLogger(), space, vm.NewSpaceSource(space), 2)
	err := table.Update()
	require.True(t, errors.Is(err, vm.ErrTooSmall))
	require.False(t, errors.Is(err, vm.ErrSource))
	require.Equal(t, 0, table.Len())
}

func TestUpdateFailureDropsEntries(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mock_vm.NewMockSource(ctrl)

	space := tagmem.NewSpace()
	defer space.Close()

	table := vm.NewTable(discardLogger(), space, source, 8)

	source.EXPECT().Update(gomock.Any()).DoAndReturn(func(dst []vm.Entry) (int, error) {
		require.Len(t, dst, 8)
		dst[0] = vm.Entry{Start: 0x40000000, End: 0x40002000, Prot: tagmem.ProtReadWrite}
		dst[1] = vm.Entry{Start: 0x50000010, End: 0x50000020, Prot: tagmem.ProtRead}
		return 2, nil
	})
	require.NoError(t, table.Update())
	require.Equal(t, 2, table.Len())

	e, ok := table.Find(0x40001000)
	require.True(t, ok)
	require.NotNil(t, e.Table)
	stale := e.Table

	// Unaligned ranges are listed but cannot be tracked
	e, ok = table.Find(0x50000018)
	require.True(t, ok)
	require.Nil(t, e.Table)

	source.EXPECT().Update(gomock.Any()).Return(0, errors.New("sysctl failed"))
	err := table.Update()
	require.True(t, errors.Is(err, vm.ErrSource))
	require.False(t, errors.Is(err, vm.ErrTooSmall))
	require.Equal(t, 0, table.Len())
	_, ok = table.Find(0x40001000)
	require.False(t, ok)

	source.EXPECT().Update(gomock.Any()).Return(0, vm.ErrTooSmall)
	err = table.Update()
	require.True(t, errors.Is(err, vm.ErrTooSmall))

	source.EXPECT().Update(gomock.Any()).Return(9, nil)
	err = table.Update()
	require.True(t, errors.Is(err, vm.ErrTooSmall))
	require.Empty(t, table.Entries())
	_, ok = table.FindTable(stale)
	require.False(t, ok)

	// Tables from before the failure are forgotten, so the same range gets a fresh one
	source.EXPECT().Update(gomock.Any()).DoAndReturn(func(dst []vm.Entry) (int, error) {
		dst[0] = vm.Entry{Start: 0x40000000, End: 0x40002000, Prot: tagmem.ProtReadWrite}
		return 1, nil
	})
	require.NoError(t, table.Update())
	e, ok = table.Find(0x40001000)
	require.True(t, ok)
	require.NotNil(t, e.Table)
	require.NotSame(t, stale, e.Table)
}

func TestEntryString(t *testing.T) {
	e := vm.Entry{Start: 0x1000, End: 0x3000, Prot: tagmem.ProtRead | tagmem.ProtExec, Kind: tagmem.KindStack}
	str := e.String()
	require.Contains(t, str, "0x1000-0x3000: p=r-x")
	require.Contains(t, str, "t=stack gt=0x0 bt=false")
	require.Equal(t, uint64(0x2000), e.Len())
}
