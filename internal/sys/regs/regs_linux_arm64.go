//go:build linux

package regs

// Word indexes into struct user_pt_regs: x0-x30, sp, pc, pstate.
const (
	prstatusWords = 34
	fpWord        = 29
	spWord        = 31
	pcWord        = 32
)

// Context is the NT_PRSTATUS register set of a stopped arm64 thread.
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
