package sampler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldSample(t *testing.T) {
	t.Parallel()

	require.True(t, ShouldSample(100, 100))
	require.True(t, ShouldSample(200, 100))
	require.False(t, ShouldSample(101, 100))
	require.True(t, ShouldSample(1, 1))
	require.True(t, ShouldSample(0, 7))
}

func TestHasReachedMax(t *testing.T) {
	t.Parallel()

	require.False(t, HasReachedMax(2, 3))
	require.True(t, HasReachedMax(3, 3))
	require.True(t, HasReachedMax(4, 3))
	require.True(t, HasReachedMax(0, 0))
	require.False(t, HasReachedMax(MaxUnbounded, MaxUnbounded))
	require.False(t, HasReachedMax(0, MaxUnbounded))
}
