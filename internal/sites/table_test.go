package sites

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, capacity int) *Table {
	t.Helper()
	table, err := NewTable(capacity, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return table
}

func TestDisassemble(t *testing.T) {
	t.Parallel()

	require.Equal(t, "mov rax, rbx", Disassemble(0x1000, []byte{0x48, 0x89, 0xd8}))
	require.Equal(t, "nop", Disassemble(0x1000, []byte{0x90, 0xcc, 0xcc}))
	require.Equal(t, "ret", Disassemble(0x1000, []byte{0xc3}))
	require.Equal(t, BadInstruction, Disassemble(0x1000, nil))
}

func TestDisassemblePrefixOnlyIsBad(t *testing.T) {
	t.Parallel()

	for _, code := range [][]byte{{0x48}, {0x0f}, {0x66, 0x48}} {
		require.Equal(t, BadInstruction, Disassemble(0x1000, code), "code % x", code)
	}

	table := newTestTable(t, 4)
	text := table.Text(0x2000, func() ([]byte, error) { return []byte{0x48}, nil })
	require.Equal(t, BadInstruction, text)
	require.Equal(t, BadInstruction, table.Text(0x2000, nil))
}

func TestTableDecodesEachSiteOnce(t *testing.T) {
	t.Parallel()

	table := newTestTable(t, 16)
	fetches := 0
	fetch := func() ([]byte, error) {
		fetches++
		return []byte{0x48, 0x89, 0xd8}, nil
	}

	for range 5 {
		require.Equal(t, "mov rax, rbx", table.Text(0x401000, fetch))
	}
	require.Equal(t, 1, fetches)
	require.EqualValues(t, 4, table.Hits())
	require.EqualValues(t, 1, table.Misses())
	require.Equal(t, 1, table.Len())
}

func TestTableFetchFailure(t *testing.T) {
	t.Parallel()

	table := newTestTable(t, 16)
	text := table.Text(0x10, func() ([]byte, error) { return nil, errors.New("unmapped") })
	require.Equal(t, BadInstruction, text)

	text = table.Text(0x10, func() ([]byte, error) {
		t.Fatal("cached site fetched again")
		return nil, nil
	})
	require.Equal(t, BadInstruction, text)
}

func TestTableRemember(t *testing.T) {
	t.Parallel()

	table := newTestTable(t, 16)
	table.Remember(0x20, "int3")
	require.Equal(t, "int3", table.Text(0x20, func() ([]byte, error) {
		return nil, errors.New("should not be called")
	}))
}

func TestNewTableValidation(t *testing.T) {
	t.Parallel()

	_, err := NewTable(0, nil)
	require.Error(t, err)
}
