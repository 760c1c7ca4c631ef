//go:build linux && amd64

package host

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skobkin/regsampler/internal/regs"
)

func lookTarget(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true(1) not available")
	}
	return path
}

func skipIfPtraceDenied(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, syscall.EPERM) || errors.Is(err, os.ErrPermission) {
		t.Skipf("ptrace not permitted: %v", err)
	}
}

func TestPtraceTracesToExit(t *testing.T) {
	target := lookTarget(t)

	tracer, err := NewPtrace(PtraceOptions{Argv: []string{target}, Stdout: io.Discard, Stderr: io.Discard}, testTable(t), testLogger())
	require.NoError(t, err)

	h := &recordingHandler{}
	err = tracer.Run(context.Background(), h)
	skipIfPtraceDenied(t, err)
	require.NoError(t, err)

	require.Equal(t, []int{0}, h.finishes)
	require.NotEmpty(t, h.events)
	require.NotEmpty(t, h.events[0].Disassembly)
	require.NotZero(t, h.events[0].Registers.Register(regs.RSP))
}

func TestPtraceRequestExitKillsTarget(t *testing.T) {
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep(1) not available")
	}

	tracer, err := NewPtrace(PtraceOptions{Argv: []string{path, "30"}, Stdout: io.Discard, Stderr: io.Discard}, testTable(t), testLogger())
	require.NoError(t, err)

	h := &recordingHandler{}
	h.onEvent = func(n int) {
		if n == 50 {
			tracer.RequestExit(0)
		}
	}
	err = tracer.Run(context.Background(), h)
	skipIfPtraceDenied(t, err)
	require.NoError(t, err)
	require.Len(t, h.events, 50)
	require.Equal(t, []int{0}, h.finishes)
}

func TestNewPtraceRequiresTarget(t *testing.T) {
	t.Parallel()

	_, err := NewPtrace(PtraceOptions{}, testTable(t), testLogger())
	require.Error(t, err)
}
