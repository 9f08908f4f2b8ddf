package memory

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_CurrentProcess(t *testing.T) {
	r, err := NewReporter(0)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), r.PID())

	rss, err := r.ResidentFast()
	require.NoError(t, err)
	assert.NotZero(t, rss)
}

func TestReporter_InvalidPID(t *testing.T) {
	_, err := NewReporter(-1)
	require.Error(t, err)
}
