package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	old := Version
	Version = "1.2.3"
	t.Cleanup(func() { Version = old })

	info := Get()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.NotEmpty(t, info.GitCommit)
	assert.Contains(t, info.String(), "1.2.3")
	assert.Contains(t, info.String(), info.Platform)
}
