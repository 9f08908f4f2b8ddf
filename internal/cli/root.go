// Package cli wires the stacksampler commands.
package cli

import (
	"github.com/spf13/cobra"

	configcmd "github.com/coral-mesh/stacksampler/internal/cli/config"
	"github.com/coral-mesh/stacksampler/internal/cli/record"
	"github.com/coral-mesh/stacksampler/internal/cli/summary"
	"github.com/coral-mesh/stacksampler/pkg/version"
)

// NewRootCmd builds the stacksampler command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stacksampler",
		Short: "Statistical CPU profiler for running processes",
		Long: `stacksampler periodically suspends the threads of a process, captures
their registers and stores the samples in a local DuckDB database.

Threads that stay asleep between passes are not suspended again; their
previous sample is duplicated instead, keeping the overhead low on mostly
idle programs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(record.NewRecordCmd())
	rootCmd.AddCommand(summary.NewSummaryCmd())
	rootCmd.AddCommand(summary.NewSamplesCmd())
	rootCmd.AddCommand(configcmd.NewConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			cmd.Printf("stacksampler version %s\n", info.Version)
			cmd.Printf("Git commit: %s\n", info.GitCommit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s\n", info.GoVersion)
			cmd.Printf("Platform: %s\n", info.Platform)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
