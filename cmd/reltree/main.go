// Command reltree grows relational decision trees, forests and boosted
// ensembles from fact files and applies them.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootCmdConfig struct {
	verbose bool
	config  string
}

func main() {
	if err := cliParser().Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cliParser() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reltree",
		Short:         "reltree induces decision trees over relational data",
		Long:          `A tool to grow relational decision trees and ensembles from typed fact files, evaluate them and rank the relations they use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config := &rootCmdConfig{}
	rootCmd.PersistentFlags().BoolVarP(&config.verbose, "verbose", "v", false, "print induction events to stderr")
	rootCmd.PersistentFlags().StringVarP(&config.config, "config", "c", "run.yaml", "path to the YAML run file")
	rootCmd.AddCommand(
		importCmd(config),
		growCmd(config),
		predictCmd(config),
		evalCmd(config),
		rankCmd(config),
	)
	return rootCmd
}

// Logf prints progress when verbose.
func (c *rootCmdConfig) Logf(format string, a ...interface{}) {
	if !c.verbose {
		return
	}
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintln(os.Stderr)
}
