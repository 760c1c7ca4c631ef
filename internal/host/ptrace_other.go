//go:build !(linux && amd64)

package host

import (
	"context"
	"errors"
	"log/slog"

	"github.com/skobkin/regsampler/internal/sites"
)

var errPtraceUnsupported = errors.New("ptrace host requires linux/amd64")

// Ptrace is unavailable on this platform.
type Ptrace struct{}

// NewPtrace always fails on this platform.
func NewPtrace(PtraceOptions, *sites.Table, *slog.Logger) (*Ptrace, error) {
	return nil, errPtraceUnsupported
}

// RequestExit implements Host.
func (*Ptrace) RequestExit(int) {}

// Run implements Host.
func (*Ptrace) Run(context.Context, Handler) error {
	return errPtraceUnsupported
}
