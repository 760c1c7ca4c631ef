package host

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skobkin/regsampler/internal/regs"
	"github.com/skobkin/regsampler/internal/sampler"
)

func TestRecorderRoundTrip(t *testing.T) {
	t.Parallel()

	snap := &regs.Snapshot{}
	for i := range snap.GPR {
		snap.GPR[i] = uint64(i * 11)
		snap.XMM[i] = [regs.VectorSize]byte{byte(i), 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	}

	var trace bytes.Buffer
	inner := &recordingHandler{}
	rec := NewRecorder(inner, NewTraceWriter(&trace))

	require.NoError(t, rec.OnEvent(sampler.Event{Address: 0x401000, Disassembly: "nop", Registers: snap}))
	require.NoError(t, rec.OnEvent(sampler.Event{Address: 0x401001, Disassembly: "ret", Registers: snap}))
	require.NoError(t, rec.OnFinish(4))
	require.Len(t, inner.events, 2)
	require.Equal(t, 3, strings.Count(trace.String(), "\n"))

	replay, err := NewReplay(&trace, testTable(t), testLogger())
	require.NoError(t, err)
	replayed := &recordingHandler{}
	require.NoError(t, replay.Run(context.Background(), replayed))

	require.Equal(t, []int{4}, replayed.finishes)
	require.Len(t, replayed.events, 2)
	require.Equal(t, "ret", replayed.events[1].Disassembly)
	require.Equal(t, *snap, regs.Capture(replayed.events[0].Registers))
}

func TestRecordedRunReproducesOutput(t *testing.T) {
	t.Parallel()

	source := `{"addr":16,"code":"90","gpr":{"rax":5}}
{"addr":17,"code":"4889d8","gpr":{"rax":6}}
{"addr":18,"code":"c3","gpr":{"rax":7},"xmm":{"xmm3":"ffffffff000000000000803f01000000"}}
`
	run := func(t *testing.T, trace string, record *bytes.Buffer) string {
		t.Helper()
		replay, err := NewReplay(strings.NewReader(trace), testTable(t), testLogger())
		require.NoError(t, err)

		var out bytes.Buffer
		controller, err := sampler.NewController(sampler.Options{
			Interval:   1,
			MaxSamples: sampler.MaxUnbounded,
			Sink:       &out,
			Terminator: replay,
			Logger:     testLogger(),
		})
		require.NoError(t, err)

		var h Handler = controller
		if record != nil {
			h = NewRecorder(controller, NewTraceWriter(record))
		}
		require.NoError(t, replay.Run(context.Background(), h))
		return out.String()
	}

	var recorded bytes.Buffer
	first := run(t, source, &recorded)
	second := run(t, recorded.String(), nil)
	require.Equal(t, first, second)
	require.Contains(t, first, "xmm3: 4294967295 0 1065353216 1\n")
}
