// Package record implements the record command, which samples the threads
// of a process into the sample database.
package record

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/stacksampler/internal/cli/helpers"
	"github.com/coral-mesh/stacksampler/internal/cli/summary"
	"github.com/coral-mesh/stacksampler/internal/config"
	"github.com/coral-mesh/stacksampler/internal/duckdb"
	"github.com/coral-mesh/stacksampler/internal/errors"
	"github.com/coral-mesh/stacksampler/internal/logging"
	"github.com/coral-mesh/stacksampler/internal/memory"
	"github.com/coral-mesh/stacksampler/internal/privilege"
	"github.com/coral-mesh/stacksampler/internal/profiler"
	"github.com/coral-mesh/stacksampler/internal/sampler"
	"github.com/coral-mesh/stacksampler/internal/sys/proc"
	"github.com/coral-mesh/stacksampler/internal/threadwatch"
	"github.com/coral-mesh/stacksampler/pkg/version"
)

// NewRecordCmd creates the record command.
func NewRecordCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "record [flags] [-- command [args...]]",
		Short: "Sample the threads of a process",
		Long: `Periodically suspend every thread of a process, read its registers and
store the sample in a local DuckDB database.

Threads that are blocked and have not run since the previous pass are not
suspended again; their last sample is duplicated instead. Threads started
and stopped while recording are picked up automatically.

Configuration sources (in order of precedence):
1. Command-line flags
2. Environment variables (STACKSAMPLER_*)
3. Config file (--config)
4. Defaults

Examples:
  # Sample a running process every millisecond for 30 seconds
  stacksampler record --pid 1234 --duration 30s

  # Run a command under the sampler
  stacksampler record --interval-ms 5 -- ./server --port 8080

  # Only worker threads, with RSS and Prometheus metrics
  stacksampler record --pid 1234 --threads worker --memory --metrics-addr :9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validateTarget(args); err != nil {
				return err
			}
			if err := helpers.ValidateFormat(opts.format, helpers.SupportedFormats); err != nil {
				return err
			}
			cfg, err := opts.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.duration)
				defer cancel()
			}

			logger := logging.NewWithComponent(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cmd.ErrOrStderr(),
			}, "record")

			return run(ctx, cfg, &opts, args, cmd.OutOrStdout(), logger)
		},
	}

	helpers.AddConfigFlag(cmd, &opts.configPath)
	helpers.AddDBFlag(cmd, &opts.dbPath)
	helpers.AddFormatFlag(cmd, &opts.format, helpers.FormatTable, helpers.SupportedFormats)
	opts.addFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context, cfg *config.Config, opts *options, args []string, out io.Writer, logger zerolog.Logger) error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("record needs procfs to follow threads and is only supported on linux")
	}

	logger.Info().
		Str("version", version.Get().String()).
		Str("kernel", proc.GetKernelVersion()).
		Msg("Starting stacksampler")

	db, err := duckdb.OpenDB(cfg.Storage.Path)
	if err != nil {
		return err
	}
	// Runs after the database is closed.
	defer func() {
		if err := privilege.FixFileOwnership(cfg.Storage.Path, cfg.Storage.Path+".wal"); err != nil {
			logger.Warn().Err(err).Msg("Failed to hand the database back to the sudo user")
		}
	}()
	defer errors.DeferClose(logger, db, "failed to close database")

	storage, err := profiler.NewStorage(db, logger)
	if err != nil {
		return err
	}

	var tgt *target
	if opts.pid > 0 {
		tgt, err = attach(opts.pid, logger)
	} else {
		tgt, err = spawn(args, logger)
	}
	if err != nil {
		return err
	}
	defer tgt.stop()

	if err := privilege.CheckPtrace(tgt.cmd != nil); err != nil {
		logger.Warn().Err(err).Int("pid", tgt.pid).Msg("Threads will probably not be sampled")
	}

	registry := newRegistry()
	schedOpts := []sampler.Option{sampler.WithMetrics(sampler.NewMetrics(registry))}
	if cfg.Sampler.Memory {
		reporter, err := memory.NewReporter(tgt.pid)
		if err != nil {
			return err
		}
		schedOpts = append(schedOpts, sampler.WithMemoryReporter(reporter))
	}

	prof, err := profiler.New(profiler.Config{
		BufferCapacity:   cfg.Sampler.BufferCapacity,
		ThreadFilter:     cfg.Sampler.ThreadFilter,
		SchedulerOptions: schedOpts,
	}, logger)
	if err != nil {
		return err
	}
	// Runs before tgt.stop: a spawned target is only reaped once none of its
	// threads are traced.
	defer errors.DeferClose(logger, prof, "failed to close profiler")

	watcher := threadwatch.New(prof, tgt.pid, logger)
	res, err := watcher.Scan()
	if err != nil {
		return fmt.Errorf("failed to list threads of %d: %w", tgt.pid, err)
	}
	registerProfilerGauges(registry, prof)

	session, err := prof.Start(cfg.Sampler.IntervalMs, profiler.Features{Memory: cfg.Sampler.Memory})
	if err != nil {
		return err
	}
	sessionID := session.ID.String()

	binaryPath, err := proc.GetBinaryPath(tgt.pid)
	if err != nil {
		logger.Debug().Err(err).Int("pid", tgt.pid).Msg("Failed to resolve binary path")
	}
	if err := storage.StoreSession(ctx, profiler.SessionInfo{
		ID:         sessionID,
		PID:        tgt.pid,
		BinaryPath: binaryPath,
		IntervalMs: session.IntervalMs,
		Memory:     session.Features.Memory,
		StartedAt:  session.StartedAt,
	}); err != nil {
		_ = prof.Stop()
		return err
	}

	logger.Info().
		Str("session_id", sessionID).
		Int("pid", tgt.pid).
		Str("binary", binaryPath).
		Int("threads", res.Added).
		Msg("Recording")

	// The flush loop outlives ctx so samples taken up to Stop are stored.
	flushCtx, stopFlush := context.WithCancel(context.WithoutCancel(ctx))
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		storage.RunFlushLoop(flushCtx, prof, sessionID, cfg.Storage.FlushInterval)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := watcher.Run(gctx, cfg.Sampler.ThreadScanInterval)
		if stderrors.Is(err, threadwatch.ErrProcessExited) {
			// Ends the recording through gctx.
			return errTargetExited
		}
		return err
	})
	if tgt.exited != nil {
		g.Go(func() error {
			select {
			case <-tgt.exited:
				return errTargetExited
			case <-gctx.Done():
				return nil
			}
		})
	}
	if cfg.Storage.Retention > 0 {
		g.Go(func() error {
			storage.RunCleanupLoop(gctx, cfg.Storage.Retention, cfg.Storage.CleanupInterval)
			return nil
		})
	}
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Addr, registry, logger)
		})
	}

	<-gctx.Done()
	logger.Info().Str("session_id", sessionID).Msg("Stopping")

	stopErr := prof.Stop()
	stopFlush()
	<-flushDone

	waitErr := g.Wait()
	if stderrors.Is(waitErr, errTargetExited) {
		waitErr = nil
	}

	if err := storage.FinishSession(context.WithoutCancel(ctx), sessionID, time.Now()); err != nil {
		logger.Error().Err(err).Msg("Failed to finish session")
	}

	summaries, err := storage.ThreadSummaries(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		return err
	}
	if err := summary.WriteThreads(out, helpers.OutputFormat(opts.format), summaries); err != nil {
		return err
	}

	return stderrors.Join(stopErr, waitErr)
}

var errTargetExited = stderrors.New("target exited")

// registerProfilerGauges exposes the profiler state on reg.
func registerProfilerGauges(reg prometheus.Registerer, prof *profiler.Profiler) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "stacksampler_registered_threads",
			Help: "Threads currently registered with the profiler.",
		}, func() float64 { return float64(len(prof.ThreadIDs())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "stacksampler_activity_generation",
			Help: "Activity generation of the profiler.",
		}, func() float64 { return float64(prof.Generation()) }),
	)
}
