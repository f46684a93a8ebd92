package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/inhies/go-bytesize"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/internal/workload"
	"github.com/munraj/cherigc/sandbox"
	"github.com/munraj/cherigc/tagmem"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	demoOptions  workload.LinkedListOptions
	demoStats    bool
	demoDetailed bool
)

func init() {
	cmd := newDemoCmd()
	addWorkloadFlags(cmd, &demoOptions)
	cmd.Flags().BoolVar(&demoStats, "stats", false, "Print the collector statistics as json when done")
	cmd.Flags().BoolVar(&demoDetailed, "detailed", false, "Include every slab in the statistics")
	rootCmd.AddCommand(cmd)
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the linked list workload",
		Long: `The demo command builds a linked list rooted on the collector's stack, with
garbage allocated around every node, collects, and checks that the list survived
intact. It then exercises revocation through a sandbox object.

Example:
  cherigc demo
  cherigc demo --nodes 100 --junk-size 4096 --stats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo()
		},
	}
}

func runDemo() error {
	options, err := loadOptions()
	if err != nil {
		return err
	}

	space := tagmem.NewSpace()
	defer space.Close()

	logger := slog.New(newHandler())
	c, err := gc.New(logger, space, options)
	if err != nil {
		return err
	}
	defer c.Destroy()

	list, err := workload.NewLinkedList(logger, c, space, demoOptions)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Stage", "Cycles", "Live", "Live bytes", "Swept", "Invalidated"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	record := func(stage string) {
		stats := c.Stats()
		table.Append([]string{
			stage,
			strconv.Itoa(stats.Cycles),
			strconv.Itoa(stats.Allocations),
			bytesize.New(float64(stats.AllocationBytes)).String(),
			strconv.Itoa(stats.Swept),
			strconv.Itoa(stats.Invalidated),
		})
	}

	if err := list.Build(); err != nil {
		return err
	}
	record("build")

	if err := c.Collect(); err != nil {
		return err
	}
	record("collect")

	if err := list.Check(); err != nil {
		return err
	}
	record("check")

	if err := runSandbox(logger, c); err != nil {
		return err
	}
	record("sandbox")

	if err := list.Release(); err != nil {
		return err
	}
	if err := c.Collect(); err != nil {
		return err
	}
	record("release")

	table.Render()

	if demoStats {
		fmt.Println(c.BuildStatsString(demoDetailed))
	}
	return c.Validate()
}

// runSandbox allocates and revokes an object through a sandbox object, then withdraws the right to
// allocate and confirms that it is refused
func runSandbox(logger *slog.Logger, c *gc.Collector) error {
	obj := sandbox.New(logger, c, sandbox.RightsAll)
	defer obj.Destroy()

	ptr, err := obj.Allocate(64)
	if err != nil {
		return err
	}
	handle := c.Roots().Add(ptr)
	defer c.Roots().Remove(handle)

	if err := obj.Revoke(ptr); err != nil {
		return err
	}
	if c.Roots().Get(handle).Tag() {
		return errors.AssertionFailedf("revoked capability %s is still tagged", ptr)
	}

	obj.RevokeRights(sandbox.RightAllocate)
	if _, err := obj.Allocate(64); !errors.Is(err, sandbox.ErrPermissionDenied) {
		return errors.AssertionFailedf("allocation without the right to allocate returned %v", err)
	}
	fmt.Printf("sandbox: revoked %s, rights now %s\n", ptr, obj.Rights())
	return nil
}
