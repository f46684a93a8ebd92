package console

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/google/shlex"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/tagmem"
	"github.com/peterh/liner"
	"golang.org/x/exp/slog"
)

// DefaultPrompt is the prompt printed before each command
const DefaultPrompt = ">> "

// ErrQuit is returned by Run when the user asks to quit
var ErrQuit = errors.New("console quit")

var (
	errorColor = color.New(color.FgHiRed).SprintfFunc()
	warnColor  = color.New(color.FgYellow).SprintfFunc()
)

// Console is an interactive debugger for a collector. It is entered explicitly through Run, and
// again after each collector log line while single-stepping.
type Console struct {
	collector *gc.Collector
	space     *tagmem.Space
	prompter  Prompter
	out       io.Writer
	prompt    string

	stepping atomic.Bool
	quit     atomic.Bool
	handler  *stepHandler
}

// New creates a console that reads commands from prompter and writes to out. next receives every
// log record logged through Handler; it may be nil.
func New(next slog.Handler, prompter Prompter, out io.Writer) *Console {
	if next == nil {
		next = slog.NewTextHandler(io.Discard, nil)
	}
	c := &Console{
		prompter: prompter,
		out:      out,
		prompt:   DefaultPrompt,
	}
	c.handler = &stepHandler{next: next, console: c}
	return c
}

// Handler returns the log handler that implements single-stepping. The collector the console
// debugs should log through it.
func (c *Console) Handler() slog.Handler {
	return c.handler
}

// Attach selects the collector the console's commands operate on
func (c *Console) Attach(collector *gc.Collector, space *tagmem.Space) {
	c.collector = collector
	c.space = space
}

// Stepping returns true if the console will be entered on the next collector log line
func (c *Console) Stepping() bool {
	return c.stepping.Load()
}

// SetStepping turns single-stepping on or off
func (c *Console) SetStepping(stepping bool) {
	c.stepping.Store(stepping)
}

// Quit returns true once the user has asked to quit from a console entered while stepping
func (c *Console) Quit() bool {
	return c.quit.Load()
}

// Run reads and executes commands until one of them resumes execution. Stepping is turned off on
// entry; the next command turns it back on. Run returns ErrQuit if the user quits, and nil when
// input is exhausted.
func (c *Console) Run() error {
	c.stepping.Store(false)

	for {
		line, err := c.prompter.Prompt(c.prompt)
		if errors.Is(err, io.EOF) {
			return nil
		} else if errors.Is(err, liner.ErrPromptAborted) {
			c.quit.Store(true)
			return ErrQuit
		} else if err != nil {
			return err
		}

		if strings.TrimSpace(line) != "" {
			c.prompter.AppendHistory(line)
		}

		args, err := shlex.Split(line)
		if err != nil {
			c.printError(errors.Wrap(err, "could not parse command"))
			continue
		}

		resume, err := c.Execute(args)
		if errors.Is(err, ErrQuit) {
			c.quit.Store(true)
			return err
		} else if err != nil {
			c.printError(err)
		}
		if resume {
			return nil
		}
	}
}

// Execute runs a single command. The first argument names the command; no arguments at all is
// the same as cont. It returns true if the command resumes execution.
func (c *Console) Execute(args []string) (bool, error) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	cmd, ok := lookup(name)
	if !ok {
		fmt.Fprintf(c.out, "unrecognized: `%s'\n", name)
		return false, nil
	}
	if cmd.needsCollector && c.collector == nil {
		return false, errors.Newf("%s: no collector attached", name)
	}
	return cmd.fn(c, args)
}

func (c *Console) printError(err error) {
	fmt.Fprintln(c.out, errorColor("Error: %v", err))
}

func (c *Console) printWarning(format string, args ...interface{}) {
	fmt.Fprintln(c.out, warnColor(format, args...))
}
