package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/munraj/cherigc/gc"
	"github.com/munraj/cherigc/internal/workload"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	configFile string
	verbose    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "cherigc",
	Short: "Run and debug a mark-sweep collector over tagged capability memory",
	Long: `cherigc drives a conservative mark-sweep collector whose heap lives in a simulated
address space with one tag bit per capability granule. It can run a demonstration
workload, open an interactive debug console over the collector, and print the
effective collector configuration.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML file holding collector options")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every collector event")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgHiRed).Sprintf("Error: %v", err))
		os.Exit(1)
	}
}

// loadOptions reads the collector options from the config file, if one was given
func loadOptions() (gc.CreateOptions, error) {
	var options gc.CreateOptions
	if configFile == "" {
		return options, nil
	}
	if _, err := toml.DecodeFile(configFile, &options); err != nil {
		return options, errors.Wrapf(err, "could not load config %s", configFile)
	}
	return options, nil
}

// newHandler returns the handler collector logs are written to
func newHandler() slog.Handler {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}

func addWorkloadFlags(cmd *cobra.Command, options *workload.LinkedListOptions) {
	cmd.Flags().IntVar(&options.Nodes, "nodes", 0, "Number of linked list nodes (default 10)")
	cmd.Flags().IntVar(&options.NodeSize, "node-size", 0, "Size of each node in bytes (default 200)")
	cmd.Flags().IntVar(&options.JunkSize, "junk-size", 0, "Size of the garbage allocated around each node (default 10000)")
}
