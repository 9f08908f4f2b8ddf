package record

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/coral-mesh/stacksampler/internal/config"
)

// options holds the record flags. Flags the user set override the layered
// configuration; the rest leave it alone.
type options struct {
	configPath   string
	pid          int
	duration     time.Duration
	intervalMs   float64
	memory       bool
	dbPath       string
	metricsAddr  string
	threads      []string
	scanInterval time.Duration
	logLevel     string
	format       string
}

func (o *options) addFlags(flags *pflag.FlagSet) {
	flags.IntVarP(&o.pid, "pid", "p", 0, "Process to sample (omit to run the command given after --)")
	flags.DurationVarP(&o.duration, "duration", "d", 0, "Stop after this long (default: until interrupted or the target exits)")
	flags.Float64VarP(&o.intervalMs, "interval-ms", "i", 1, "Sampling interval in milliseconds")
	flags.BoolVar(&o.memory, "memory", false, "Attach the target's resident set size to each pass")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	flags.StringSliceVar(&o.threads, "threads", nil, "Only sample threads whose name contains one of these substrings")
	flags.DurationVar(&o.scanInterval, "scan-interval", 200*time.Millisecond, "How often to refresh the target's thread list")
	flags.StringVar(&o.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
}

// loadConfig builds the effective configuration: defaults, config file,
// environment, then the flags that were set explicitly.
func (o *options) loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.NewLayeredLoader().Load(o.configPath)
	if err != nil {
		return nil, err
	}

	if flags.Changed("interval-ms") {
		cfg.Sampler.IntervalMs = o.intervalMs
	}
	if flags.Changed("memory") {
		cfg.Sampler.Memory = o.memory
	}
	if flags.Changed("threads") {
		cfg.Sampler.ThreadFilter = o.threads
	}
	if flags.Changed("scan-interval") {
		cfg.Sampler.ThreadScanInterval = o.scanInterval
	}
	if flags.Changed("db") {
		cfg.Storage.Path = o.dbPath
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *options) validateTarget(args []string) error {
	switch {
	case o.pid < 0:
		return fmt.Errorf("--pid must be positive, got %d", o.pid)
	case o.pid > 0 && len(args) > 0:
		return fmt.Errorf("--pid and a command are mutually exclusive")
	case o.pid == 0 && len(args) == 0:
		return fmt.Errorf("either --pid or a command to run is required")
	case o.duration < 0:
		return fmt.Errorf("--duration must not be negative, got %s", o.duration)
	}
	return nil
}
