package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skobkin/regsampler/internal/sites"
)

func newTable(t *testing.T) *sites.Table {
	t.Helper()
	table, err := sites.NewTable(16, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return table
}

func TestInspectCountsEvents(t *testing.T) {
	t.Parallel()

	trace := `{"addr":4096,"code":"4889d8"}
{"addr":4099,"dis":"nop"}
{"addr":4100,"code":"48"}
{"addr":4096,"code":"4889d8"}
{"exit":4}
`
	var out bytes.Buffer
	rep, err := inspect(strings.NewReader(trace), newTable(t), options{disasm: true}, &out)
	require.NoError(t, err)

	require.EqualValues(t, 4, rep.Events)
	require.Equal(t, 3, rep.Sites)
	require.EqualValues(t, 2, rep.Decoded)
	require.EqualValues(t, 1, rep.Bad)
	require.NotNil(t, rep.ExitCode)
	require.Equal(t, 4, *rep.ExitCode)
	require.Contains(t, out.String(), "mov rax, rbx")
	require.Equal(t, 4, strings.Count(out.String(), "\n"))
}

func TestInspectLimit(t *testing.T) {
	t.Parallel()

	trace := strings.Repeat(`{"addr":1,"dis":"nop"}`+"\n", 5)
	rep, err := inspect(strings.NewReader(trace), newTable(t), options{limit: 2}, io.Discard)
	require.NoError(t, err)
	require.EqualValues(t, 2, rep.Events)
	require.Nil(t, rep.ExitCode)
}

func TestInspectRejectsBadRegisters(t *testing.T) {
	t.Parallel()

	trace := `{"addr":1,"dis":"nop","gpr":{"xmm0":1}}` + "\n"
	_, err := inspect(strings.NewReader(trace), newTable(t), options{}, io.Discard)
	require.ErrorContains(t, err, "trace line 1")
}

func TestInspectRejectsBadCode(t *testing.T) {
	t.Parallel()

	trace := `{"addr":1,"code":"zz"}` + "\n"
	_, err := inspect(strings.NewReader(trace), newTable(t), options{}, io.Discard)
	require.ErrorContains(t, err, "code")
}
