package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

// Prompter reads console input one line at a time
type Prompter interface {
	Prompt(p string) (string, error)
	AppendHistory(line string)
}

// terminalPrompter edits lines with liner when standard input is a terminal
type terminalPrompter struct {
	*liner.State
}

// NewTerminalPrompter returns a Prompter reading from standard input, along with a function that
// restores the terminal. If the terminal does not support line editing, input is read verbatim.
func NewTerminalPrompter() (Prompter, func() error) {
	if !liner.TerminalSupported() {
		return NewReaderPrompter(os.Stdin, os.Stdout), func() error { return nil }
	}
	lr := liner.NewLiner()
	lr.SetCtrlCAborts(true)
	lr.SetTabCompletionStyle(liner.TabPrints)
	lr.SetCompleter(complete)
	return terminalPrompter{lr}, lr.Close
}

func complete(line string) []string {
	var matches []string
	for _, cmd := range commands {
		for _, name := range cmd.names {
			if name != "" && strings.HasPrefix(name, line) {
				matches = append(matches, name)
			}
		}
	}
	return matches
}

type dumbterm struct {
	r *bufio.Reader
	w io.Writer
}

// NewReaderPrompter returns a Prompter that writes prompts to w and reads lines from r without
// any editing
func NewReaderPrompter(r io.Reader, w io.Writer) Prompter {
	return dumbterm{r: bufio.NewReader(r), w: w}
}

func (d dumbterm) Prompt(p string) (string, error) {
	fmt.Fprint(d.w, p)
	line, err := d.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

func (d dumbterm) AppendHistory(string) {}
