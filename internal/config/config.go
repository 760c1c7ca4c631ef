// Package config parses the command line, environment and config file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/skobkin/regsampler/internal/sampler"
	"github.com/skobkin/regsampler/internal/sites"
)

// EnvPrefix is prepended to flag names to form environment variable names,
// e.g. -buffer-size becomes REGSAMPLER_BUFFER_SIZE.
const EnvPrefix = "REGSAMPLER"

// ErrHelp is returned when -h or -help was requested.
var ErrHelp = flag.ErrHelp

// Config represents the runtime configuration of one sampling run.
type Config struct {
	Interval      uint64
	MaxCount      uint32
	BufferSize    int
	Output        string
	Replay        string
	Record        string
	SiteCacheSize int
	LogLevel      slog.Level
	ProfileDir    string
	ShowVersion   bool
	Target        []string
	HTTP          HTTPConfig
}

// HTTPConfig captures the optional status listener settings.
type HTTPConfig struct {
	ListenAddr       string
	StatusInterval   time.Duration
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	WS               WebsocketConfig
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
}

// Unbounded reports whether no sample limit is configured.
func (c Config) Unbounded() bool {
	return c.MaxCount == sampler.MaxUnbounded
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Interval:      sampler.DefaultInterval,
		MaxCount:      sampler.MaxUnbounded,
		BufferSize:    sampler.DefaultBufferSize,
		Output:        "-",
		SiteCacheSize: sites.DefaultCapacity,
		LogLevel:      slog.LevelInfo,
		HTTP: HTTPConfig{
			StatusInterval: time.Second,
			AllowedOrigins: []string{"*"},
			WS: WebsocketConfig{
				MaxClients:   64,
				WriteTimeout: 3 * time.Second,
			},
		},
	}
}

// Load parses args (without the program name). Every flag may also be set
// through a REGSAMPLER_* environment variable or a -config file.
func Load(args []string, usageOut io.Writer) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("regsampler", flag.ContinueOnError)
	fs.SetOutput(usageOut)
	fs.Usage = func() { printUsage(fs, usageOut) }

	var (
		maxCount       = uint64(cfg.MaxCount)
		logLevel       = "info"
		allowedOrigins = strings.Join(cfg.HTTP.AllowedOrigins, ",")
	)

	fs.Uint64Var(&cfg.Interval, "interval", cfg.Interval, "sample every N-th executed instruction")
	fs.Uint64Var(&maxCount, "maxcount", maxCount, "stop after M samples (default unbounded)")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "records held before an automatic flush")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "sample output file, - for stdout")
	fs.StringVar(&cfg.Replay, "replay", "", "replay a recorded JSONL trace instead of launching a target")
	fs.StringVar(&cfg.Record, "record", "", "write every event to this JSONL trace")
	fs.IntVar(&cfg.SiteCacheSize, "site-cache", cfg.SiteCacheSize, "instruction sites kept in the disassembly cache")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.ProfileDir, "profile-dir", "", "write a CPU profile of the sampler into this directory")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	fs.StringVar(&cfg.HTTP.ListenAddr, "listen", "", "status HTTP listen address, empty to disable")
	fs.DurationVar(&cfg.HTTP.StatusInterval, "status-interval", cfg.HTTP.StatusInterval, "WebSocket status push period")
	fs.StringVar(&allowedOrigins, "allowed-origins", allowedOrigins, "comma separated WebSocket origin patterns")
	fs.BoolVar(&cfg.HTTP.EnablePrometheus, "prometheus", false, "serve Prometheus metrics on /metrics")
	fs.BoolVar(&cfg.HTTP.EnablePprof, "pprof", false, "serve /debug/pprof/")
	fs.IntVar(&cfg.HTTP.WS.MaxClients, "ws-max-clients", cfg.HTTP.WS.MaxClients, "concurrent WebSocket clients")
	fs.DurationVar(&cfg.HTTP.WS.WriteTimeout, "ws-write-timeout", cfg.HTTP.WS.WriteTimeout, "WebSocket write timeout")
	_ = fs.String("config", "", "config file with one \"flag value\" pair per line")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return Config{}, ErrHelp
		}
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	cfg.Target = fs.Args()
	if err := resolve(&cfg, maxCount, logLevel, allowedOrigins); err != nil {
		fs.Usage()
		return Config{}, err
	}

	return cfg, nil
}

// resolve validates cfg and applies the values parsed into temporaries.
func resolve(cfg *Config, maxCount uint64, logLevel, allowedOrigins string) error {
	if cfg.Interval == 0 {
		return fmt.Errorf("interval must be >= 1")
	}
	if maxCount > math.MaxUint32 {
		return fmt.Errorf("maxcount must be <= %d", uint64(math.MaxUint32))
	}
	cfg.MaxCount = uint32(maxCount)

	if cfg.BufferSize <= 0 {
		return fmt.Errorf("buffer-size must be > 0")
	}
	if cfg.SiteCacheSize <= 0 {
		return fmt.Errorf("site-cache must be > 0")
	}
	if strings.TrimSpace(cfg.Output) == "" {
		return fmt.Errorf("output must not be empty")
	}

	level, err := parseLogLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parse log-level: %w", err)
	}
	cfg.LogLevel = level

	origins := splitAndTrim(allowedOrigins, ",")
	if len(origins) == 0 {
		return fmt.Errorf("allowed-origins must not be empty")
	}
	cfg.HTTP.AllowedOrigins = origins

	if cfg.HTTP.StatusInterval <= 0 {
		return fmt.Errorf("status-interval must be > 0")
	}
	if cfg.HTTP.WS.MaxClients <= 0 {
		return fmt.Errorf("ws-max-clients must be > 0")
	}
	if cfg.HTTP.WS.WriteTimeout <= 0 {
		return fmt.Errorf("ws-write-timeout must be > 0")
	}

	switch {
	case cfg.Replay == "" && len(cfg.Target) == 0:
		return fmt.Errorf("a target command or -replay is required")
	case cfg.Replay != "" && len(cfg.Target) > 0:
		return fmt.Errorf("-replay cannot be combined with a target command")
	}

	return nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "This tool prints out register values of every N-th executed instruction, up to M times.")
	fmt.Fprintln(w, "  N is specified by the -interval flag, default is 100")
	fmt.Fprintln(w, "  M is specified by the -maxcount flag, default is unbounded")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: regsampler [flags] -- <target> [args...]")
	fmt.Fprintln(w, "       regsampler [flags] -replay trace.jsonl")
	fmt.Fprintln(w)
	fs.PrintDefaults()
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
