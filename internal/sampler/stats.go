package sampler

import (
	"fmt"
	"strings"
)

// State is the lifecycle stage of a run.
type State int

const (
	StateRunning State = iota
	StateTerminating
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateRunning, StateTerminating, StateFinished} {
		if string(text) == candidate.String() {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", text)
}

// Stats is a point-in-time view of a run.
type Stats struct {
	State      State  `json:"state"`
	Events     uint64 `json:"events"`
	Samples    uint32 `json:"samples"`
	Flushes    uint64 `json:"flushes"`
	Buffered   int    `json:"buffered"`
	Capacity   int    `json:"capacity"`
	Interval   uint64 `json:"interval"`
	MaxSamples uint32 `json:"max_samples"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}

// Summary is the end-of-run report.
type Summary struct {
	Flushes  uint64 `json:"flushes"`
	Capacity int    `json:"capacity"`
	ExitCode int    `json:"exit_code"`
	Samples  uint32 `json:"samples"`
	Events   uint64 `json:"events"`
	Drained  int    `json:"drained"`
}

// Text renders the four summary lines appended to the sample output.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Buffer printed %d times.\n", s.Flushes)
	fmt.Fprintf(&b, "Buffer size:%d\n", s.Capacity)
	fmt.Fprintf(&b, "Program finished with code %d\n", s.ExitCode)
	fmt.Fprintf(&b, "Total instrumented instructions: %d\n", s.Samples)
	return b.String()
}
