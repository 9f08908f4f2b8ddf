package regs

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureSelf(t *testing.T) {
	r := CaptureSelf()

	require.NotZero(t, r.PC)
	require.NotZero(t, r.SP)

	fn := runtime.FuncForPC(r.PC)
	require.NotNil(t, fn, "captured PC should resolve to a function")
	assert.True(t, strings.HasSuffix(fn.Name(), "regs.CaptureSelf"), "got %s", fn.Name())
}
