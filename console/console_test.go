package console_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/console"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/tagmem"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type harness struct {
	console   *console.Console
	collector *gc.Collector
	space     *tagmem.Space
	out       *bytes.Buffer
}

func newHarness(t *testing.T, script ...string) *harness {
	out := &bytes.Buffer{}
	input := strings.Join(script, "\n")
	if len(script) > 0 {
		input += "\n"
	}
	con := console.New(nil, console.NewReaderPrompter(strings.NewReader(input), out), out)

	space := tagmem.NewSpace()
	c, err := gc.New(slog.New(con.Handler()), space, gc.CreateOptions{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Destroy())
		require.NoError(t, space.Close())
	})

	con.Attach(c, space)
	return &harness{console: con, collector: c, space: space, out: out}
}

func TestHelpAndUnrecognized(t *testing.T) {
	h := newHarness(t, "help", "bogus", "cont")

	require.NoError(t, h.console.Run())
	require.Contains(t, h.out.String(), "uptags ut - Update tags for page/object")
	require.Contains(t, h.out.String(), "unrecognized: `bogus'")
	require.False(t, h.console.Stepping())
}

func TestEmptyLineContinues(t *testing.T) {
	h := newHarness(t, "", "quit")

	require.NoError(t, h.console.Run())
	require.False(t, h.console.Quit())
}

func TestQuit(t *testing.T) {
	h := newHarness(t, "q")

	err := h.console.Run()
	require.True(t, errors.Is(err, console.ErrQuit))
	require.True(t, h.console.Quit())
}

func TestEndOfInputContinues(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.console.Run())
}

func TestInfo(t *testing.T) {
	h := newHarness(t)
	obj, err := h.collector.Allocate(40)
	require.NoError(t, err)
	res := h.collector.Resolve(obj)
	slab := res.Block.Addr()

	_, err = h.console.Execute([]string{"info", fmt.Sprintf("0x%x", obj.Base())})
	require.NoError(t, err)
	require.Contains(t, h.out.String(), "Object is allocated.")
	require.Contains(t, h.out.String(), "Returned object: "+res.Object.String())
	require.NotContains(t, h.out.String(), "Block header information")

	h.out.Reset()
	_, err = h.console.Execute([]string{"i", fmt.Sprintf("%d", slab)})
	require.NoError(t, err)
	require.Contains(t, h.out.String(), "Object is not allocated.")
	require.Contains(t, h.out.String(), "Object size: 64 bytes")
	require.Contains(t, h.out.String(), "Free bits: 0x")

	h.out.Reset()
	_, err = h.console.Execute([]string{"info", "0x10"})
	require.NoError(t, err)
	require.Contains(t, h.out.String(), "Object is unmanaged.")
	require.Contains(t, h.out.String(), "No VM table entry.")

	_, err = h.console.Execute([]string{"info"})
	require.ErrorContains(t, err, "info: <addr>")
	_, err = h.console.Execute([]string{"info", "nowhere"})
	require.ErrorContains(t, err, "invalid address")
}

func TestUptags(t *testing.T) {
	h := newHarness(t)
	holder, err := h.collector.Allocate(40)
	require.NoError(t, err)
	child, err := h.collector.Allocate(40)
	require.NoError(t, err)
	require.NoError(t, h.space.Store(holder, 0, child))

	_, err = h.console.Execute([]string{"ut", fmt.Sprintf("0x%x", holder.Base())})
	require.NoError(t, err)
	require.Contains(t, h.out.String(), "Old tags: hi=0x0, lo=0x0, v=false")
	require.Contains(t, h.out.String(), "New tags: ")
	require.NotContains(t, h.out.String(), "New tags: hi=0x0, lo=0x0")

	tags, valid := h.collector.SmallTable().CachedPageTags(holder.Base())
	require.True(t, valid)
	require.False(t, tags.Empty())

	_, err = h.console.Execute([]string{"uptags", "0x10"})
	require.ErrorContains(t, err, "unmanaged")
}

func TestMapOmitsFreeSlots(t *testing.T) {
	h := newHarness(t)
	_, err := h.collector.Allocate(40)
	require.NoError(t, err)
	_, err = h.collector.Allocate(2000)
	require.NoError(t, err)

	_, err = h.console.Execute([]string{"map", "s"})
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(h.out.String(), "USED"))
	require.NotContains(t, h.out.String(), "FREE")

	h.out.Reset()
	_, err = h.console.Execute([]string{"m", "b"})
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(h.out.String(), "USED"))
	require.Equal(t, 1, strings.Count(h.out.String(), "CONT"))
	require.NotContains(t, h.out.String(), "FREE")

	_, err = h.console.Execute([]string{"map", "x"})
	require.ErrorContains(t, err, "b (big) or s (small)")
}

func TestRevokeCommand(t *testing.T) {
	h := newHarness(t)
	obj, err := h.collector.Allocate(40)
	require.NoError(t, err)
	root := h.collector.Roots().Add(obj)

	_, err = h.console.Execute([]string{"revoke", fmt.Sprintf("0x%x", obj.Base())})
	require.NoError(t, err)
	require.Contains(t, h.out.String(), "Revoked.")
	require.True(t, h.collector.Resolve(obj).Status.Free())
	require.False(t, h.collector.Roots().Get(root).Tag())

	_, err = h.console.Execute([]string{"revoke", fmt.Sprintf("0x%x", obj.Base())})
	require.True(t, errors.Is(err, gc.ErrNotAllocated))
}

func TestStatAndVM(t *testing.T) {
	h := newHarness(t, "stat", "stat json", "gc", "vm", "c")
	_, err := h.collector.Allocate(40)
	require.NoError(t, err)
	require.NoError(t, h.collector.VMTable().Update())

	require.NoError(t, h.console.Run())
	out := h.out.String()
	require.Contains(t, out, "ntalloc 64 = 1")
	require.Contains(t, out, "ntbigalloc = 0")
	require.Contains(t, out, `"Counters"`)
	require.Contains(t, out, "Collection 1: marked 0")
	require.Contains(t, out, "VM table: ")
	require.Contains(t, out, "pool")
	require.Contains(t, out, "stack")
}

func TestStepping(t *testing.T) {
	h := newHarness(t, "next", "gc", "cont")
	h.console.SetStepping(true)

	require.NoError(t, h.collector.Collect())
	out := h.out.String()
	require.Contains(t, out, "Collector::Collect")
	require.Contains(t, out, "collection started")
	require.Contains(t, out, "Refusing to run nested collection.")
	require.NotContains(t, out, "collection finished")
	require.False(t, h.console.Stepping())
	require.Equal(t, 1, h.collector.Stats().Cycles)
}

func TestQuitWhileStepping(t *testing.T) {
	h := newHarness(t, "quit")
	h.console.SetStepping(true)

	require.NoError(t, h.collector.Collect())
	require.True(t, h.console.Quit())
	require.Equal(t, gc.PhaseNone, h.collector.Phase())
}

type failingPrompter struct{ err error }

func (p failingPrompter) Prompt(string) (string, error) { return "", p.err }
func (p failingPrompter) AppendHistory(string)          {}

type recordingHandler struct {
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestPrompterFailureWhileStepping(t *testing.T) {
	next := &recordingHandler{}
	out := &bytes.Buffer{}
	con := console.New(next, failingPrompter{err: errors.New("terminal went away")}, out)
	con.SetStepping(true)

	slog.New(con.Handler()).Info("collection started")

	require.Len(t, next.records, 2)
	require.Equal(t, "collection started", next.records[0].Message)

	failure := next.records[1]
	require.Equal(t, "console failed", failure.Message)
	require.Equal(t, slog.LevelError, failure.Level)
	var logged error
	failure.Attrs(func(a slog.Attr) bool {
		if a.Key == "error" {
			logged, _ = a.Value.Any().(error)
		}
		return true
	})
	require.ErrorContains(t, logged, "terminal went away")
	require.False(t, con.Quit())
	require.Contains(t, out.String(), "collection started")
}

func TestQuitWhileSteppingIsNotLogged(t *testing.T) {
	next := &recordingHandler{}
	con := console.New(next, console.NewReaderPrompter(strings.NewReader("quit\n"), io.Discard), io.Discard)
	con.SetStepping(true)

	slog.New(con.Handler()).Info("collection started")

	require.True(t, con.Quit())
	require.Len(t, next.records, 1)
}
