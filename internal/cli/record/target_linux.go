package record

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// si_code values of an exited child (include/uapi/asm-generic/siginfo.h).
const (
	cldExited = 1
	cldKilled = 2
	cldDumped = 3
)

// watchExit closes t.exited once the spawned command has exited. Its threads
// are traced by this process, so their ptrace stops are reported to any wait
// here too; the status is only peeked at with WNOWAIT and reaped by stop
// after the profiler has detached.
func (t *target) watchExit() {
	defer close(t.exited)

	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()

	for {
		var info unix.Siginfo
		err := unix.Waitid(unix.P_PID, t.pid, &info, unix.WEXITED|unix.WNOHANG|unix.WNOWAIT, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return
		case err != nil:
			t.logger.Warn().Err(err).Int("pid", t.pid).Msg("Failed to watch command")
			return
		}

		if info.Signo == int32(unix.SIGCHLD) {
			switch info.Code {
			case cldExited, cldKilled, cldDumped:
				return
			}
		}

		<-ticker.C
	}
}

// wait reaps the spawned command.
func (t *target) wait() error {
	return t.cmd.Wait()
}
