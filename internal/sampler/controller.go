package sampler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/skobkin/regsampler/internal/regs"
)

// DefaultInterval is the sampling stride used when none is configured.
const DefaultInterval uint64 = 100

// ErrFinished is returned for events or finish notices after the run ended.
var ErrFinished = errors.New("sampler: run already finished")

// Event is one executed instruction reported by a host. Registers is only
// valid for the duration of the OnEvent call.
type Event struct {
	Address     uint64
	Disassembly string
	Registers   regs.Context
}

// Terminator stops the monitored program early.
type Terminator interface {
	RequestExit(code int)
}

// Options configures a Controller.
type Options struct {
	Interval   uint64
	MaxSamples uint32
	BufferSize int
	Sink       io.Writer
	Terminator Terminator
	Logger     *slog.Logger
}

// Controller owns the counters and output buffer of a single run.
type Controller struct {
	interval   uint64
	maxSamples uint32
	terminator Terminator
	logger     *slog.Logger

	mu       sync.Mutex
	state    State
	events   uint64
	samples  uint32
	buffer   *Buffer
	summary  Summary
	watchers watchers
	done     chan struct{}
}

// NewController validates opts and returns a Controller in the Running state.
func NewController(opts Options) (*Controller, error) {
	if opts.Interval == 0 {
		return nil, fmt.Errorf("interval must be >= 1")
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	buffer, err := NewBuffer(opts.BufferSize, opts.Sink)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		interval:   opts.Interval,
		maxSamples: opts.MaxSamples,
		terminator: opts.Terminator,
		logger:     logger.With("component", "sampler"),
		state:      StateRunning,
		buffer:     buffer,
		done:       make(chan struct{}),
	}, nil
}

// OnEvent processes one executed instruction.
func (c *Controller) OnEvent(ev Event) error {
	c.mu.Lock()

	switch c.state {
	case StateFinished:
		c.mu.Unlock()
		return ErrFinished
	case StateTerminating:
		c.mu.Unlock()
		return nil
	}

	// The limit is checked before counting: the event after the last
	// sample is the one that stops the run.
	if HasReachedMax(c.samples, c.maxSamples) {
		c.state = StateTerminating
		stats := c.publishLocked()
		c.mu.Unlock()

		c.logger.Info("max sample count reached", "samples", stats.Samples, "events", stats.Events)
		if c.terminator != nil {
			c.terminator.RequestExit(0)
		}
		return nil
	}

	c.events++
	if !ShouldSample(c.events, c.interval) {
		c.mu.Unlock()
		return nil
	}

	c.samples++
	record := Format(c.samples, ev.Address, ev.Disassembly, ev.Registers)
	flushesBefore := c.buffer.Flushes()
	if err := c.buffer.Append(record); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.buffer.Flushes() == flushesBefore {
		c.mu.Unlock()
		return nil
	}

	stats := c.publishLocked()
	c.mu.Unlock()

	c.logger.Debug("buffer flushed", "flushes", stats.Flushes, "samples", stats.Samples)
	return nil
}

// OnFinish drains buffered records and writes the run summary.
// Only the first call has any effect.
func (c *Controller) OnFinish(exitCode int) error {
	c.mu.Lock()
	if c.state == StateFinished {
		c.mu.Unlock()
		return ErrFinished
	}
	c.state = StateFinished
	defer close(c.done)

	drained, drainErr := c.buffer.Drain()
	c.summary = Summary{
		Flushes:  c.buffer.Flushes(),
		Capacity: c.buffer.Capacity(),
		ExitCode: exitCode,
		Samples:  c.samples,
		Events:   c.events,
		Drained:  drained,
	}
	var err error
	if drainErr != nil {
		err = drainErr
	} else if writeErr := c.buffer.WriteString(c.summary.Text()); writeErr != nil {
		err = fmt.Errorf("write summary: %w", writeErr)
	}
	c.publishLocked()
	c.watchers.closeAll()
	c.mu.Unlock()

	c.logger.Info("run finished",
		"exit_code", exitCode,
		"events", c.summary.Events,
		"samples", c.summary.Samples,
		"flushes", c.summary.Flushes,
	)
	return err
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once OnFinish has run.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Summary returns the final report once the run has finished.
func (c *Controller) Summary() (Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary, c.state == StateFinished
}

// Subscribe registers a listener for stats published on flushes and state
// changes. The channel is closed when the run finishes or on unsubscribe.
func (c *Controller) Subscribe() (<-chan Stats, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := newSubscriber()
	sub.send(c.statsLocked())
	if c.state == StateFinished {
		sub.close()
		return sub.channel(), func() {}
	}
	c.watchers.add(sub)
	return sub.channel(), func() { c.watchers.remove(sub) }
}

// publishLocked hands the current stats to every subscriber. Publishing
// under c.mu keeps each subscriber's view ordered by Events.
func (c *Controller) publishLocked() Stats {
	stats := c.statsLocked()
	c.watchers.publish(stats)
	return stats
}

func (c *Controller) statsLocked() Stats {
	stats := Stats{
		State:      c.state,
		Events:     c.events,
		Samples:    c.samples,
		Flushes:    c.buffer.Flushes(),
		Buffered:   c.buffer.Len(),
		Capacity:   c.buffer.Capacity(),
		Interval:   c.interval,
		MaxSamples: c.maxSamples,
	}
	if c.state == StateFinished {
		code := c.summary.ExitCode
		stats.ExitCode = &code
	}
	return stats
}
