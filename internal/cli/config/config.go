// Package config implements the config command, which shows and checks the
// effective stacksampler configuration.
package config

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/stacksampler/internal/cli/helpers"
	"github.com/coral-mesh/stacksampler/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect stacksampler configuration",
		Long: `Inspect the configuration record and summary run with.

Configuration Priority:
  1. Command-line flags (highest)
  2. STACKSAMPLER_* environment variables
  3. Config file (--config)
  4. Defaults`,
	}

	cmd.AddCommand(newViewCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

func newViewCmd() *cobra.Command {
	var (
		configPath string
		raw        bool
	)

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show merged configuration",
		Long: `Display the configuration after defaults, the config file and the
environment are merged.

Use --raw to output the merged config without the header comment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLayeredLoader().Load(configPath)
			if err != nil {
				return err
			}
			return writeView(cmd.OutOrStdout(), cfg, configPath, raw)
		},
	}

	helpers.AddConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&raw, "raw", false, "Output raw YAML without annotations")

	return cmd
}

func writeView(w io.Writer, cfg *config.Config, configPath string, raw bool) error {
	if !raw {
		file := configPath
		if file == "" {
			file = "none"
		}
		if _, err := fmt.Fprintf(w, "# Config sources (priority order):\n#   1. Environment variables (STACKSAMPLER_*)\n#   2. Config file - %s\n#   3. Defaults\n\n", file); err != nil {
			return err
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the merged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLayeredLoader().Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration is invalid:\n%w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
			return err
		},
	}

	helpers.AddConfigFlag(cmd, &configPath)

	return cmd
}
