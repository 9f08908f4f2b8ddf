package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AddFormatFlag adds a standard --format/-o flag to a command.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supportedFormats []OutputFormat) {
	formatNames := make([]string, len(supportedFormats))
	for i, f := range supportedFormats {
		formatNames[i] = string(f)
	}

	description := fmt.Sprintf("Output format (%s)", strings.Join(formatNames, ", "))
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat), description)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return formatNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// AddConfigFlag adds the --config/-c flag naming a YAML config file.
func AddConfigFlag(cmd *cobra.Command, pathVar *string) {
	cmd.Flags().StringVarP(pathVar, "config", "c", "", "Path to a YAML config file")
	_ = cmd.MarkFlagFilename("config", "yaml", "yml")
}

// AddDBFlag adds the --db flag naming the sample database.
func AddDBFlag(cmd *cobra.Command, pathVar *string) {
	cmd.Flags().StringVar(pathVar, "db", "", "Path to the sample database (overrides storage.path)")
	_ = cmd.MarkFlagFilename("db", "duckdb", "db")
}

// ValidateFormat checks if the format is in the supported list.
func ValidateFormat(format string, supported []OutputFormat) error {
	for _, s := range supported {
		if format == string(s) {
			return nil
		}
	}

	supportedNames := make([]string, len(supported))
	for i, s := range supported {
		supportedNames[i] = string(s)
	}

	return fmt.Errorf("unsupported format %q, must be one of: %s",
		format, strings.Join(supportedNames, ", "))
}
