package host

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/skobkin/regsampler/internal/regs"
	"github.com/skobkin/regsampler/internal/sampler"
)

var traceJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// maxTraceLine bounds one encoded event: 32 registers plus code and text.
const maxTraceLine = 64 * 1024

// TraceEvent is one line of a JSON Lines trace. A line with Exit set ends
// the run with that exit code.
type TraceEvent struct {
	Address     uint64            `json:"addr"`
	Disassembly string            `json:"dis,omitempty"`
	Code        string            `json:"code,omitempty"`
	GPR         map[string]uint64 `json:"gpr,omitempty"`
	XMM         map[string]string `json:"xmm,omitempty"`
	Exit        *int              `json:"exit,omitempty"`
}

// NewTraceEvent captures ev into its trace representation.
func NewTraceEvent(ev sampler.Event) TraceEvent {
	snap := regs.Capture(ev.Registers)
	out := TraceEvent{
		Address:     ev.Address,
		Disassembly: ev.Disassembly,
		GPR:         make(map[string]uint64, len(regs.GeneralPurpose)),
		XMM:         make(map[string]string, len(regs.Vector)),
	}
	for i, id := range regs.GeneralPurpose {
		out.GPR[id.String()] = snap.GPR[i]
	}
	for i, id := range regs.Vector {
		out.XMM[id.String()] = hex.EncodeToString(snap.XMM[i][:])
	}
	return out
}

// Snapshot decodes the register maps. Registers absent from the trace
// read as zero.
func (e TraceEvent) Snapshot() (*regs.Snapshot, error) {
	snap := &regs.Snapshot{}
	for name, value := range e.GPR {
		id, err := regs.Parse(name)
		if err != nil || id.IsVector() {
			return nil, fmt.Errorf("gpr %q: not a general-purpose register", name)
		}
		snap.GPR[id.Index()] = value
	}
	for name, raw := range e.XMM {
		id, err := regs.Parse(name)
		if err != nil || !id.IsVector() {
			return nil, fmt.Errorf("xmm %q: not a vector register", name)
		}
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("xmm %s: %w", name, err)
		}
		if len(decoded) != regs.VectorSize {
			return nil, fmt.Errorf("xmm %s: want %d bytes, got %d", name, regs.VectorSize, len(decoded))
		}
		copy(snap.XMM[id.Index()][:], decoded)
	}
	return snap, nil
}

// CodeBytes decodes the hex-encoded instruction bytes.
func (e TraceEvent) CodeBytes() ([]byte, error) {
	if e.Code == "" {
		return nil, fmt.Errorf("no instruction bytes at %#x", e.Address)
	}
	return hex.DecodeString(e.Code)
}

// TraceReader decodes a trace one line at a time.
type TraceReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewTraceReader wraps r.
func NewTraceReader(r io.Reader) *TraceReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxTraceLine)
	return &TraceReader{scanner: scanner}
}

// Next returns the next event, or io.EOF at the end of the trace. Blank
// lines are skipped.
func (tr *TraceReader) Next() (TraceEvent, error) {
	for tr.scanner.Scan() {
		tr.line++
		data := tr.scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var ev TraceEvent
		if err := traceJSON.Unmarshal(data, &ev); err != nil {
			return TraceEvent{}, fmt.Errorf("trace line %d: %w", tr.line, err)
		}
		return ev, nil
	}
	if err := tr.scanner.Err(); err != nil {
		return TraceEvent{}, fmt.Errorf("trace line %d: %w", tr.line+1, err)
	}
	return TraceEvent{}, io.EOF
}

// Line returns the number of the last line read.
func (tr *TraceReader) Line() int { return tr.line }

// TraceWriter encodes events as JSON Lines through a buffered writer.
type TraceWriter struct {
	w *bufio.Writer
}

// NewTraceWriter wraps w.
func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{w: bufio.NewWriterSize(w, 128*1024)}
}

// Write appends one event line.
func (tw *TraceWriter) Write(ev TraceEvent) error {
	data, err := traceJSON.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	data = append(data, '\n')
	if _, err := tw.w.Write(data); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	return nil
}

// Flush writes buffered lines to the underlying writer.
func (tw *TraceWriter) Flush() error {
	return tw.w.Flush()
}
