//go:build linux

package regs

// Word indexes into the i386 struct user_regs_struct.
const (
	prstatusWords = 17
	fpWord        = 5
	pcWord        = 12
	spWord        = 15
)

// Context is the NT_PRSTATUS register set of a stopped i386 thread.
type Context struct {
	gpr [prstatusWords]uint32
}

// Registers implements Snapshot.
func (c *Context) Registers() Registers {
	return Registers{
		PC: uintptr(c.gpr[pcWord]),
		SP: uintptr(c.gpr[spWord]),
		FP: uintptr(c.gpr[fpWord]),
	}
}
