package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skobkin/regsampler/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTrace(t *testing.T, events int, exit string) string {
	t.Helper()
	var b strings.Builder
	for range events {
		b.WriteString(`{"addr":4096,"code":"4889d8","gpr":{"rax":7}}` + "\n")
	}
	if exit != "" {
		b.WriteString(`{"exit":` + exit + "}\n")
	}
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func replayConfig(trace string) config.Config {
	cfg := config.Default()
	cfg.Replay = trace
	cfg.Interval = 2
	cfg.BufferSize = 2
	return cfg
}

func TestRunReplayToStdout(t *testing.T) {
	t.Parallel()

	cfg := replayConfig(writeTrace(t, 5, "3"))
	var stdout bytes.Buffer

	code, err := Run(context.Background(), testLogger(), cfg, Streams{Stdout: &stdout})
	require.NoError(t, err)
	require.Equal(t, 3, code)

	out := stdout.String()
	require.Contains(t, out,
		"InstrumentedCount: 1\nInstruction at address: 4096\nDisassembled instruction: mov rax, rbx\n")
	require.Contains(t, out, "rax: 7\n")
	require.True(t, strings.HasSuffix(out,
		"Buffer printed 1 times.\nBuffer size:2\nProgram finished with code 3\nTotal instrumented instructions: 2\n"), out)
}

func TestRunMaxCountStopsReplay(t *testing.T) {
	t.Parallel()

	cfg := replayConfig(writeTrace(t, 10, ""))
	cfg.MaxCount = 3
	cfg.Output = filepath.Join(t.TempDir(), "samples.txt")

	code, err := Run(context.Background(), testLogger(), cfg, Streams{})
	require.NoError(t, err)
	require.Zero(t, code)

	data, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(string(data), "----------------------------"))
	require.Contains(t, string(data), "Total instrumented instructions: 3\n")
}

func TestRunRecordReproducesOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := replayConfig(writeTrace(t, 6, "0"))
	first.Output = filepath.Join(dir, "first.txt")
	first.Record = filepath.Join(dir, "recorded.jsonl")
	_, err := Run(context.Background(), testLogger(), first, Streams{})
	require.NoError(t, err)

	second := replayConfig(first.Record)
	second.Output = filepath.Join(dir, "second.txt")
	_, err = Run(context.Background(), testLogger(), second, Streams{})
	require.NoError(t, err)

	want, err := os.ReadFile(first.Output)
	require.NoError(t, err)
	got, err := os.ReadFile(second.Output)
	require.NoError(t, err)
	require.Equal(t, string(want), string(got))
}

func TestRunMissingTrace(t *testing.T) {
	t.Parallel()

	cfg := replayConfig(filepath.Join(t.TempDir(), "missing.jsonl"))
	_, err := Run(context.Background(), testLogger(), cfg, Streams{Stdout: io.Discard})
	require.ErrorContains(t, err, "open trace")
}

func TestRunMalformedTrace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o600))

	_, err := Run(context.Background(), testLogger(), replayConfig(path), Streams{Stdout: io.Discard})
	require.ErrorContains(t, err, "trace line 1")
}
