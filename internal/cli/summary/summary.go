package summary

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacksampler/internal/cli/helpers"
	"github.com/coral-mesh/stacksampler/internal/config"
	"github.com/coral-mesh/stacksampler/internal/duckdb"
	"github.com/coral-mesh/stacksampler/internal/errors"
	"github.com/coral-mesh/stacksampler/internal/logging"
	"github.com/coral-mesh/stacksampler/internal/profiler"
)

// storeFlags are the flags every read command shares.
type storeFlags struct {
	configPath string
	dbPath     string
	format     string
}

func (f *storeFlags) add(cmd *cobra.Command) {
	helpers.AddConfigFlag(cmd, &f.configPath)
	helpers.AddDBFlag(cmd, &f.dbPath)
	helpers.AddFormatFlag(cmd, &f.format, helpers.FormatTable, helpers.SupportedFormats)
}

// open loads the configuration and opens the sample store. The returned
// closer must be called when done.
func (f *storeFlags) open(cmd *cobra.Command) (*profiler.Storage, func(), zerolog.Logger, error) {
	if err := helpers.ValidateFormat(f.format, helpers.SupportedFormats); err != nil {
		return nil, nil, zerolog.Nop(), err
	}

	cfg, err := config.NewLayeredLoader().Load(f.configPath)
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	if cmd.Flags().Changed("db") {
		cfg.Storage.Path = f.dbPath
	}

	logger := logging.NewWithComponent(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	}, "cli")

	db, err := duckdb.OpenDB(cfg.Storage.Path)
	if err != nil {
		return nil, nil, logger, err
	}
	storage, err := profiler.NewStorage(db, logger)
	if err != nil {
		errors.DeferClose(logger, db, "failed to close database")
		return nil, nil, logger, err
	}

	return storage, func() { errors.DeferClose(logger, db, "failed to close database") }, logger, nil
}

// latestSession resolves an empty session id to the most recent session.
func latestSession(ctx context.Context, storage *profiler.Storage, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	sessions, err := storage.Sessions(ctx)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", sql.ErrNoRows
	}
	return sessions[0].ID, nil
}

// NewSummaryCmd creates the summary command.
func NewSummaryCmd() *cobra.Command {
	var (
		flags     storeFlags
		sessionID string
		list      bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize a recorded session per thread",
		Long: `Show how many samples each thread of a session received, how many of
them were duplicated while the thread slept and how many distinct program
counters were seen.

Examples:
  # Most recent session
  stacksampler summary

  # List sessions
  stacksampler summary --sessions

  # A specific session as JSON
  stacksampler summary --session 3f1c... -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, closeDB, _, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			format := helpers.OutputFormat(flags.format)

			if list {
				sessions, err := storage.Sessions(ctx)
				if err != nil {
					return err
				}
				return WriteSessions(cmd.OutOrStdout(), format, sessions)
			}

			id, err := latestSession(ctx, storage, sessionID)
			if err != nil {
				if err == sql.ErrNoRows {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
				}
				return err
			}

			summaries, err := storage.ThreadSummaries(ctx, id)
			if err != nil {
				return err
			}
			if format == helpers.FormatTable {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Session %s\n", id); err != nil {
					return err
				}
			}
			return WriteThreads(cmd.OutOrStdout(), format, summaries)
		},
	}

	flags.add(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to summarize (default: most recent)")
	cmd.Flags().BoolVar(&list, "sessions", false, "List recorded sessions instead")

	return cmd
}

// NewSamplesCmd creates the samples command.
func NewSamplesCmd() *cobra.Command {
	var (
		flags     storeFlags
		timeFlags helpers.TimeFlags
		sessionID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "samples",
		Short: "List raw samples of a recorded session",
		Long: `Print the samples of a session in time order with their register
values.

Examples:
  # Last 100 samples of the most recent session in the past minute
  stacksampler samples --since 1m --limit 100

  # Export a session as CSV
  stacksampler samples --session 3f1c... --limit 0 -o csv > samples.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative, got %d", limit)
			}
			tr, err := timeFlags.Parse()
			if err != nil {
				return err
			}

			storage, closeDB, _, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			id, err := latestSession(ctx, storage, sessionID)
			if err != nil {
				if err == sql.ErrNoRows {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
				}
				return err
			}

			samples, err := storage.QuerySamples(ctx, id, tr.Start, tr.End, limit)
			if err != nil {
				return err
			}
			return WriteSamples(cmd.OutOrStdout(), helpers.OutputFormat(flags.format), samples)
		},
	}

	flags.add(cmd)
	timeFlags.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to read (default: most recent)")
	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum number of samples (0 for no limit)")

	return cmd
}
