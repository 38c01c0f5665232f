package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, RunSuccess, StatusFor(3, 0))
	require.Equal(t, RunPartial, StatusFor(3, 1))
	require.Equal(t, RunError, StatusFor(3, 3))
}

func TestParseJobRunStatus(t *testing.T) {
	t.Parallel()

	s, ok := ParseJobRunStatus("partial")
	require.True(t, ok)
	require.Equal(t, RunPartial, s)
	_, ok = ParseJobRunStatus("done")
	require.False(t, ok)
}
