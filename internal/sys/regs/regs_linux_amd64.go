//go:build linux

package regs

// Word indexes into struct user_regs_struct.
const (
	prstatusWords = 27
	fpWord        = 4
	pcWord        = 16
	spWord        = 19
)

// Context is the NT_PRSTATUS register set of a stopped x86-64 thread.
type Context struct {
	gpr [prstatusWords]uint64
}

// Registers implements Snapshot.
func (c *Context) Registers() Registers {
	return Registers{
		PC: uintptr(c.gpr[pcWord]),
		SP: uintptr(c.gpr[spWord]),
		FP: uintptr(c.gpr[fpWord]),
	}
}
