package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/skobkin/regsampler/internal/app"
	"github.com/skobkin/regsampler/internal/config"
	"github.com/skobkin/regsampler/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "regsampler: %v\n", err)
		return 2
	}

	if cfg.ShowVersion {
		fmt.Println(version.Current().String())
		return 0
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)

	if cfg.ProfileDir != "" {
		defer profile.Start(
			profile.CPUProfile,
			profile.ProfilePath(cfg.ProfileDir),
			profile.NoShutdownHook,
			profile.Quiet,
		).Stop()
		logger.Info("cpu profiling enabled", "dir", cfg.ProfileDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exitCode, err := app.Run(ctx, logger, cfg, app.DefaultStreams())
	if err != nil {
		logger.Error("application error", "err", err)
		return 1
	}
	return exitCode
}
