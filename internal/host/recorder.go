package host

import (
	"errors"
	"fmt"

	"github.com/skobkin/regsampler/internal/sampler"
)

// Recorder writes every event to a trace before forwarding it.
type Recorder struct {
	next   Handler
	writer *TraceWriter
}

// NewRecorder wraps next so that its events are also written to w.
func NewRecorder(next Handler, w *TraceWriter) *Recorder {
	return &Recorder{next: next, writer: w}
}

// OnEvent implements Handler.
func (r *Recorder) OnEvent(ev sampler.Event) error {
	if err := r.writer.Write(NewTraceEvent(ev)); err != nil {
		return err
	}
	return r.next.OnEvent(ev)
}

// OnFinish implements Handler. The exit marker is written even when the
// wrapped handler fails.
func (r *Recorder) OnFinish(exitCode int) error {
	code := exitCode
	writeErr := r.writer.Write(TraceEvent{Exit: &code})
	if writeErr == nil {
		writeErr = r.writer.Flush()
	}
	if writeErr != nil {
		writeErr = fmt.Errorf("record exit: %w", writeErr)
	}
	return errors.Join(r.next.OnFinish(exitCode), writeErr)
}
