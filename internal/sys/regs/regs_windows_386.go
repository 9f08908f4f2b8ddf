//go:build windows

package regs

const (
	contextI386    = 0x00010000
	contextControl = contextI386 | 0x1

	contextFlags = contextControl
)

type floatingSaveArea struct {
	controlWord   uint32
	statusWord    uint32
	tagWord       uint32
	errorOffset   uint32
	errorSelector uint32
	dataOffset    uint32
	dataSelector  uint32
	registerArea  [80]byte
	cr0NpxState   uint32
}

// Context mirrors the Win32 CONTEXT structure on x86.
type Context struct {
	ContextFlags uint32

	dr0 uint32
	dr1 uint32
	dr2 uint32
	dr3 uint32
	dr6 uint32
	dr7 uint32

	floatSave floatingSaveArea

	seggs uint32
	segfs uint32
	seges uint32
	segds uint32

	edi uint32
	esi uint32
	ebx uint32
	edx uint32
	ecx uint32
	eax uint32

	ebp    uint32
	eip    uint32
	segcs  uint32
	eflags uint32
	esp    uint32
	segss  uint32

	extendedRegisters [512]byte
}

// Registers implements Snapshot.
func (c *Context) Registers() Registers {
	return Registers{PC: uintptr(c.eip), SP: uintptr(c.esp), FP: uintptr(c.ebp)}
}
