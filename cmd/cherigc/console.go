package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/munraj/cherigc/console"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/internal/workload"
	"github.com/munraj/cherigc/tagmem"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	consoleOptions workload.LinkedListOptions
	consoleStep    bool
)

func init() {
	cmd := newConsoleCmd()
	addWorkloadFlags(cmd, &consoleOptions)
	cmd.Flags().BoolVar(&consoleStep, "step", false, "Enter the console after every collector log line")
	rootCmd.AddCommand(cmd)
}

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Debug the collector interactively while the linked list workload runs",
		Long: `The console command opens the debug console before the linked list workload
starts and again after each of its stages. Type help for the list of commands; cont
resumes the workload and next single-steps through the collector's log lines.

Example:
  cherigc console
  cherigc console --step --nodes 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole()
		},
	}
}

func runConsole() error {
	options, err := loadOptions()
	if err != nil {
		return err
	}

	prompter, restore := console.NewTerminalPrompter()
	defer restore()

	con := console.New(newHandler(), prompter, os.Stdout)

	space := tagmem.NewSpace()
	defer space.Close()

	logger := slog.New(con.Handler())
	c, err := gc.New(logger, space, options)
	if err != nil {
		return err
	}
	defer c.Destroy()
	con.Attach(c, space)

	list, err := workload.NewLinkedList(logger, c, space, consoleOptions)
	if err != nil {
		return err
	}

	stages := []struct {
		name string
		fn   func() error
	}{
		{"build", list.Build},
		{"collect", c.Collect},
		{"check", list.Check},
		{"release", list.Release},
		{"collect", c.Collect},
	}

	fmt.Println("Type help for the list of commands.")
	for _, stage := range stages {
		if err := con.Run(); errors.Is(err, console.ErrQuit) {
			return nil
		} else if err != nil {
			return err
		}
		con.SetStepping(consoleStep || con.Stepping())

		fmt.Printf("== %s\n", stage.name)
		err := stage.fn()
		if con.Quit() {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "%s failed", stage.name)
		}
	}

	fmt.Println("== done")
	if err := con.Run(); err != nil && !errors.Is(err, console.ErrQuit) {
		return err
	}
	return nil
}
