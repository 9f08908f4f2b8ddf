//go:build linux && (amd64 || arm64 || 386)

package regs

import "unsafe"

// Bytes exposes the context as the raw buffer PTRACE_GETREGSET fills.
func (c *Context) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&c.gpr)), unsafe.Sizeof(c.gpr))
}
