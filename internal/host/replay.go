package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/skobkin/regsampler/internal/sampler"
	"github.com/skobkin/regsampler/internal/sites"
)

// Replay plays a recorded trace through a Handler.
type Replay struct {
	src    io.Reader
	sites  *sites.Table
	logger *slog.Logger

	mu   sync.Mutex
	exit exitRequest
}

// NewReplay returns a Host reading trace lines from src. Events without
// disassembly text are decoded through table from their code bytes.
func NewReplay(src io.Reader, table *sites.Table, logger *slog.Logger) (*Replay, error) {
	if src == nil {
		return nil, fmt.Errorf("replay source is required")
	}
	if table == nil {
		return nil, fmt.Errorf("site table is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replay{
		src:    src,
		sites:  table,
		logger: logger.With("component", "replay"),
	}, nil
}

// RequestExit implements Host.
func (r *Replay) RequestExit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exit.set(code)
}

func (r *Replay) exitRequested() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exit.code, r.exit.requested
}

// Run implements Host.
func (r *Replay) Run(ctx context.Context, h Handler) error {
	reader := NewTraceReader(r.src)
	var delivered uint64

	for {
		if code, ok := r.exitRequested(); ok {
			r.logger.Info("exit requested", "code", code, "events", delivered)
			return h.OnFinish(code)
		}
		if err := ctx.Err(); err != nil {
			r.logger.Info("replay interrupted", "reason", err, "events", delivered)
			return h.OnFinish(InterruptedExitCode)
		}

		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			r.logger.Info("trace ended", "events", delivered)
			return h.OnFinish(0)
		}
		if err != nil {
			return err
		}
		if record.Exit != nil {
			r.logger.Info("trace exit marker", "code", *record.Exit, "events", delivered)
			return h.OnFinish(*record.Exit)
		}

		snap, err := record.Snapshot()
		if err != nil {
			return fmt.Errorf("trace line %d: %w", reader.Line(), err)
		}

		text := record.Disassembly
		if text == "" {
			text = r.sites.Text(record.Address, record.CodeBytes)
		} else {
			r.sites.Remember(record.Address, text)
		}

		if err := h.OnEvent(sampler.Event{Address: record.Address, Disassembly: text, Registers: snap}); err != nil {
			return fmt.Errorf("handle event at line %d: %w", reader.Line(), err)
		}
		delivered++
	}
}
