package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// stepHandler forwards records to the next handler and, while the console is single-stepping,
// prints each record and enters the console after it
type stepHandler struct {
	next    slog.Handler
	console *Console
}

var _ slog.Handler = (*stepHandler)(nil)

func (h *stepHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Stepping() || h.next.Enabled(ctx, level)
}

func (h *stepHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}

	if !h.console.Stepping() {
		return err
	}

	var line strings.Builder
	fmt.Fprintf(&line, "[%s] %s", r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&line, " %s", a)
		return true
	})
	fmt.Fprintln(h.console.out, line.String())

	// ErrQuit is recorded by Run; the collector cannot act on it
	if runErr := h.console.Run(); runErr != nil && !errors.Is(runErr, ErrQuit) {
		err = errors.CombineErrors(err, h.logFailure(ctx, runErr))
	}
	return err
}

func (h *stepHandler) logFailure(ctx context.Context, cause error) error {
	if !h.next.Enabled(ctx, slog.LevelError) {
		return nil
	}
	r := slog.NewRecord(time.Now(), slog.LevelError, "console failed", 0)
	r.AddAttrs(slog.Any("error", cause))
	return h.next.Handle(ctx, r)
}

func (h *stepHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &stepHandler{next: h.next.WithAttrs(attrs), console: h.console}
}

func (h *stepHandler) WithGroup(name string) slog.Handler {
	return &stepHandler{next: h.next.WithGroup(name), console: h.console}
}
