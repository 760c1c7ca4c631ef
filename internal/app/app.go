// Package app wires up and runs one sampling session.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/regsampler/internal/api"
	"github.com/skobkin/regsampler/internal/config"
	"github.com/skobkin/regsampler/internal/host"
	"github.com/skobkin/regsampler/internal/httpserver"
	"github.com/skobkin/regsampler/internal/sampler"
	"github.com/skobkin/regsampler/internal/sites"
)

const shutdownTimeout = 10 * time.Second

// Streams are the standard streams handed to a launched target. Stdout
// also receives samples when the output is "-".
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultStreams returns the process standard streams.
func DefaultStreams() Streams {
	return Streams{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run executes a sampling session and returns the exit code of the
// monitored program.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, streams Streams) (exitCode int, err error) {
	runID := uuid.NewString()
	logger := baseLogger.With("run_id", runID)
	appLogger := logger.With("component", "app")

	sink, closeSink, err := openOutput(cfg.Output, streams.Stdout)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := closeSink(); closeErr != nil && err == nil {
			err = fmt.Errorf("close output: %w", closeErr)
		}
	}()

	table, err := sites.NewTable(cfg.SiteCacheSize, logger)
	if err != nil {
		return 0, fmt.Errorf("init site table: %w", err)
	}

	h, info, closeHost, err := newHost(cfg, table, logger, streams)
	if err != nil {
		return 0, err
	}
	defer closeHost()
	info.ID = runID
	info.StartedAt = time.Now().UTC()

	controller, err := sampler.NewController(sampler.Options{
		Interval:   cfg.Interval,
		MaxSamples: cfg.MaxCount,
		BufferSize: cfg.BufferSize,
		Sink:       sink,
		Terminator: h,
		Logger:     logger,
	})
	if err != nil {
		return 0, fmt.Errorf("init sampler: %w", err)
	}

	var handler host.Handler = controller
	if cfg.Record != "" {
		recordFile, err := os.Create(cfg.Record)
		if err != nil {
			return 0, fmt.Errorf("create record file: %w", err)
		}
		defer func() {
			if closeErr := recordFile.Close(); closeErr != nil {
				appLogger.Warn("record file close", "err", closeErr)
			}
		}()
		handler = host.NewRecorder(controller, host.NewTraceWriter(recordFile))
		appLogger.Info("recording trace", "path", cfg.Record)
	}

	var srv *httpserver.Server
	if cfg.HTTP.ListenAddr != "" {
		srv = httpserver.New(cfg.HTTP, baseLogger.With("component", "http"), info, controller, table)
		appLogger.Info("starting HTTP server", "listen_addr", cfg.HTTP.ListenAddr)
		go func() {
			// The status surface is optional; a failed listener does not
			// stop sampling.
			if err := srv.Start(); err != nil {
				appLogger.Error("status listener failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Warn("http shutdown", "err", err)
			}
		}()
	}

	appLogger.Info("run started",
		"source", info.Source,
		"interval", cfg.Interval,
		"max_samples", cfg.MaxCount,
		"buffer_size", cfg.BufferSize,
	)

	if runErr := h.Run(ctx, handler); runErr != nil {
		if srv != nil {
			srv.MarkFailed(runErr)
		}
		return 0, fmt.Errorf("run: %w", runErr)
	}

	summary, finished := controller.Summary()
	if !finished {
		return 0, errors.New("run ended without a finish notice")
	}
	return summary.ExitCode, nil
}

func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "-" || path == "" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func newHost(cfg config.Config, table *sites.Table, logger *slog.Logger, streams Streams) (host.Host, api.RunInfo, func(), error) {
	hostLogger := logger.With("component", "host")

	if cfg.Replay != "" {
		f, err := os.Open(cfg.Replay)
		if err != nil {
			return nil, api.RunInfo{}, nil, fmt.Errorf("open trace: %w", err)
		}
		replay, err := host.NewReplay(f, table, hostLogger)
		if err != nil {
			_ = f.Close()
			return nil, api.RunInfo{}, nil, fmt.Errorf("init replay: %w", err)
		}
		closeFn := func() {
			if err := f.Close(); err != nil {
				hostLogger.Warn("trace close", "err", err)
			}
		}
		return replay, api.RunInfo{Source: "replay:" + cfg.Replay}, closeFn, nil
	}

	tracer, err := host.NewPtrace(host.PtraceOptions{
		Argv:   cfg.Target,
		Stdin:  streams.Stdin,
		Stdout: streams.Stdout,
		Stderr: streams.Stderr,
	}, table, hostLogger)
	if err != nil {
		return nil, api.RunInfo{}, nil, fmt.Errorf("init ptrace: %w", err)
	}
	return tracer, api.RunInfo{Source: "ptrace", Target: cfg.Target}, func() {}, nil
}
