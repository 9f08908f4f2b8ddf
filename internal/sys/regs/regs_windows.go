//go:build windows && (amd64 || arm64 || 386)

package regs

import "unsafe"

// NewContext returns a Context aligned to 16 bytes with the context flags
// GetThreadContext needs already set.
func NewContext() *Context {
	buf := make([]byte, unsafe.Sizeof(Context{})+15)
	c := (*Context)(unsafe.Pointer((uintptr(unsafe.Pointer(&buf[0])) + 15) &^ 15))
	c.ContextFlags = contextFlags
	return c
}
