package sampler

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestBufferDrainKeepsOrder(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	buf, err := NewBuffer(10, &sink)
	require.NoError(t, err)

	for i := range 4 {
		require.NoError(t, buf.Append(fmt.Sprintf("r%d\n", i)))
	}
	require.Equal(t, 4, buf.Len())
	require.Zero(t, sink.Len())

	n, err := buf.Drain()
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "r0\nr1\nr2\nr3\n", sink.String())
	require.Zero(t, buf.Flushes())
	require.Zero(t, buf.Len())
}

func TestBufferFlushesAtCapacity(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	buf, err := NewBuffer(3, &sink)
	require.NoError(t, err)

	require.NoError(t, buf.Append("a\n"))
	require.NoError(t, buf.Append("b\n"))
	require.Zero(t, buf.Flushes())

	require.NoError(t, buf.Append("c\n"))
	require.EqualValues(t, 1, buf.Flushes())
	require.Zero(t, buf.Len())
	require.Equal(t, "a\nb\nc\n", sink.String())

	require.NoError(t, buf.Append("d\n"))
	n, err := buf.Drain()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.EqualValues(t, 1, buf.Flushes())
	require.Equal(t, "a\nb\nc\nd\n", sink.String())
}

func TestBufferSinkFailure(t *testing.T) {
	t.Parallel()

	buf, err := NewBuffer(2, failingWriter{})
	require.NoError(t, err)

	require.NoError(t, buf.Append("a\n"))
	err = buf.Append("b\n")
	require.ErrorContains(t, err, "disk full")
	require.Zero(t, buf.Flushes())
	require.Zero(t, buf.Len())
}

func TestNewBufferValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBuffer(0, &bytes.Buffer{})
	require.Error(t, err)

	_, err = NewBuffer(1, nil)
	require.Error(t, err)
}
