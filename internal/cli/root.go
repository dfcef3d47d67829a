// Package cli provides the tickd command line.
package cli

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./tickd.yaml"

// NewRootCommand creates the tickd root command.
func NewRootCommand(version string) *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "tickd",
		Short: "Tag-addressed task scheduler daemon",
		Long: `tickd runs countdown, loop and one-shot tasks declared in a config file
on a single event loop. Tasks are addressed by tag and can start, pause,
resume or cancel each other.

The config file may be JSON, YAML or TOML (chosen by extension).`,
		Version: version,
		// SilenceUsage prevents usage from being printed on errors
		SilenceUsage: true,
		// SilenceErrors prevents Cobra from printing errors (we handle it in main)
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to the config file")

	root.AddCommand(
		newRunCommand(&cfgPath),
		newValidateCommand(&cfgPath),
		newHistoryCommand(&cfgPath),
	)
	return root
}
