// Package host adapts instruction event sources to the sampler callbacks.
package host

import (
	"context"
	"io"

	"github.com/skobkin/regsampler/internal/sampler"
)

// InterruptedExitCode is reported when a run is stopped by cancellation.
const InterruptedExitCode = 130

// Handler receives per-instruction events and the end-of-run notice.
type Handler interface {
	OnEvent(ev sampler.Event) error
	OnFinish(exitCode int) error
}

// Host drives a Handler from an instruction event source.
type Host interface {
	// Run delivers events until the program exits, RequestExit is called
	// or ctx is canceled. OnFinish is called exactly once unless OnEvent
	// fails, in which case Run returns that error.
	Run(ctx context.Context, h Handler) error
	// RequestExit stops event delivery and finishes the run with code.
	// It may be called from within OnEvent.
	RequestExit(code int)
}

// exitRequest records the first RequestExit call.
type exitRequest struct {
	requested bool
	code      int
}

func (e *exitRequest) set(code int) {
	if e.requested {
		return
	}
	e.requested = true
	e.code = code
}

// PtraceOptions configures the single-step host.
type PtraceOptions struct {
	// Argv is the target command line; Argv[0] is resolved through PATH.
	Argv   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}
