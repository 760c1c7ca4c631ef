//go:build linux && amd64

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/skobkin/regsampler/internal/regs"
	"github.com/skobkin/regsampler/internal/sampler"
	"github.com/skobkin/regsampler/internal/sites"
)

// user_fpregs_struct layout: 160 bytes of x87 state precede xmm0..xmm15.
const (
	fpRegsSize = 512
	xmmOffset  = 160
)

// Ptrace launches a target and single-steps it, reporting every
// instruction.
type Ptrace struct {
	opts   PtraceOptions
	sites  *sites.Table
	logger *slog.Logger

	mu   sync.Mutex
	exit exitRequest
}

// NewPtrace returns a Host that traces opts.Argv.
func NewPtrace(opts PtraceOptions, table *sites.Table, logger *slog.Logger) (*Ptrace, error) {
	if len(opts.Argv) == 0 {
		return nil, fmt.Errorf("target command is required")
	}
	if table == nil {
		return nil, fmt.Errorf("site table is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Ptrace{
		opts:   opts,
		sites:  table,
		logger: logger.With("component", "ptrace", "target", opts.Argv[0]),
	}, nil
}

// RequestExit implements Host.
func (p *Ptrace) RequestExit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exit.set(code)
}

func (p *Ptrace) exitRequested() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit.code, p.exit.requested
}

// Run implements Host. Every ptrace request must come from the thread
// that started the tracee, so tracing runs on a dedicated locked thread.
func (p *Ptrace) Run(ctx context.Context, h Handler) error {
	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		errCh <- p.trace(ctx, h)
	}()
	return <-errCh
}

func (p *Ptrace) trace(ctx context.Context, h Handler) error {
	cmd := exec.Command(p.opts.Argv[0], p.opts.Argv[1:]...)
	cmd.Stdin = p.opts.Stdin
	cmd.Stdout = p.opts.Stdout
	cmd.Stderr = p.opts.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start target: %w", err)
	}
	pid := cmd.Process.Pid
	defer func() { _ = cmd.Process.Release() }()
	logger := p.logger.With("pid", pid)

	var ws unix.WaitStatus
	if err := wait(pid, &ws); err != nil {
		return err
	}
	if !ws.Stopped() {
		return h.OnFinish(exitCode(ws))
	}
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_EXITKILL); err != nil {
		logger.Warn("set ptrace options", "err", err)
	}
	logger.Info("tracing started")

	var state unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &state); err != nil {
		kill(pid)
		return fmt.Errorf("read registers: %w", err)
	}

	var (
		steps   uint64
		pending int
	)
	for {
		if code, ok := p.exitRequested(); ok {
			logger.Info("exit requested, killing target", "code", code, "steps", steps)
			kill(pid)
			return h.OnFinish(code)
		}
		if err := ctx.Err(); err != nil {
			logger.Info("tracing interrupted", "reason", err, "steps", steps)
			kill(pid)
			return h.OnFinish(InterruptedExitCode)
		}

		addr := state.Rip
		text := p.sites.Text(addr, func() ([]byte, error) { return peekCode(pid, addr) })

		if err := singleStep(pid, pending); err != nil {
			kill(pid)
			return fmt.Errorf("single-step at %#x: %w", addr, err)
		}
		pending = 0
		if err := wait(pid, &ws); err != nil {
			kill(pid)
			return err
		}

		switch {
		case ws.Exited() || ws.Signaled():
			code := exitCode(ws)
			logger.Info("target exited", "code", code, "steps", steps)
			return h.OnFinish(code)
		case ws.Stopped() && ws.StopSignal() != syscall.SIGTRAP:
			// The instruction did not retire; hand the signal back on the
			// next step.
			pending = int(ws.StopSignal())
			if err := unix.PtraceGetRegs(pid, &state); err != nil {
				kill(pid)
				return fmt.Errorf("read registers: %w", err)
			}
			continue
		}

		if err := unix.PtraceGetRegs(pid, &state); err != nil {
			kill(pid)
			return fmt.Errorf("read registers: %w", err)
		}
		steps++

		regCtx := &ptraceContext{pid: pid, regs: &state}
		if err := h.OnEvent(sampler.Event{Address: addr, Disassembly: text, Registers: regCtx}); err != nil {
			kill(pid)
			return err
		}
		if regCtx.err != nil {
			kill(pid)
			return fmt.Errorf("read vector registers: %w", regCtx.err)
		}
	}
}

type ptraceContext struct {
	pid  int
	regs *unix.PtraceRegs
	fp   *[fpRegsSize]byte
	err  error
}

func (c *ptraceContext) Register(id regs.ID) uint64 {
	r := c.regs
	switch id {
	case regs.RAX:
		return r.Rax
	case regs.RBX:
		return r.Rbx
	case regs.RCX:
		return r.Rcx
	case regs.RDX:
		return r.Rdx
	case regs.RDI:
		return r.Rdi
	case regs.RSI:
		return r.Rsi
	case regs.RBP:
		return r.Rbp
	case regs.RSP:
		return r.Rsp
	case regs.R8:
		return r.R8
	case regs.R9:
		return r.R9
	case regs.R10:
		return r.R10
	case regs.R11:
		return r.R11
	case regs.R12:
		return r.R12
	case regs.R13:
		return r.R13
	case regs.R14:
		return r.R14
	case regs.R15:
		return r.R15
	default:
		return 0
	}
}

func (c *ptraceContext) Vector(id regs.ID) [regs.VectorSize]byte {
	var out [regs.VectorSize]byte
	if !id.IsVector() {
		return out
	}
	if c.fp == nil && c.err == nil {
		c.fp, c.err = getFPRegs(c.pid)
	}
	if c.err != nil {
		return out
	}
	off := xmmOffset + id.Index()*regs.VectorSize
	copy(out[:], c.fp[off:off+regs.VectorSize])
	return out
}

func getFPRegs(pid int) (*[fpRegsSize]byte, error) {
	var buf [fpRegsSize]byte
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETFPREGS, uintptr(pid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	if errno != 0 {
		return nil, errno
	}
	return &buf, nil
}

// singleStep resumes the tracee for one instruction, delivering sig if
// non-zero.
func singleStep(pid, sig int) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SINGLESTEP, uintptr(pid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func peekCode(pid int, addr uint64) ([]byte, error) {
	buf := make([]byte, sites.MaxInstructionLen)
	n, err := unix.PtracePeekText(pid, uintptr(addr), buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

func wait(pid int, ws *unix.WaitStatus) error {
	for {
		_, err := unix.Wait4(pid, ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("wait for target: %w", err)
		}
		return nil
	}
}

func kill(pid int) {
	_ = unix.Kill(pid, unix.SIGKILL)
	var ws unix.WaitStatus
	_ = wait(pid, &ws)
}

func exitCode(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}
