package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective collector configuration",
		Long: `The config command prints the collector options as TOML, with every option
left unset in the config file replaced by its default. The output can be edited and
passed back with --config.

Example:
  cherigc config > gc.toml
  cherigc --config gc.toml demo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := loadOptions()
			if err != nil {
				return err
			}
			return toml.NewEncoder(os.Stdout).Encode(options.WithDefaults())
		},
	}
}
