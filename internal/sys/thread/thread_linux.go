//go:build linux && (amd64 || arm64 || 386)

package thread

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/coral-mesh/stacksampler/internal/sys/regs"
)

// ptrace requests must come from the thread that attached, so every request
// is funneled through one locked OS thread.
type tracer struct {
	reqs chan tracerRequest
}

type tracerRequest struct {
	fn   func() error
	done chan error
}

var (
	tracerOnce    sync.Once
	defaultTracer *tracer
)

func getTracer() *tracer {
	tracerOnce.Do(func() {
		defaultTracer = &tracer{reqs: make(chan tracerRequest)}
		go defaultTracer.run()
	})
	return defaultTracer
}

func (t *tracer) run() {
	runtime.LockOSThread()
	for req := range t.reqs {
		req.done <- req.fn()
	}
}

func (t *tracer) do(fn func() error) error {
	done := make(chan error, 1)
	t.reqs <- tracerRequest{fn: fn, done: done}
	return <-done
}

type osHandle struct {
	tid     int
	stopped bool
	// groupStop is set when the current stop is a job control stop
	// (SIGSTOP and friends) rather than one requested by suspend.
	groupStop bool
	ctx       regs.Context
}

func openThread(tid int) (*osHandle, error) {
	if tid == unix.Gettid() {
		return nil, fmt.Errorf("cannot trace the calling thread")
	}
	err := getTracer().do(func() error {
		return ptrace(unix.PTRACE_SEIZE, tid, 0, 0)
	})
	if err != nil {
		return nil, fmt.Errorf("ptrace seize: %w", err)
	}
	return &osHandle{tid: tid}, nil
}

func (h *osHandle) suspend() error {
	return getTracer().do(func() error {
		// A thread restarted with PTRACE_LISTEN traps on its own when the
		// job control stop ends. That trap serves as this suspension.
		if err := h.collectStops(unix.WNOHANG); err != nil {
			return err
		}
		if h.stopped {
			return nil
		}
		if err := ptrace(unix.PTRACE_INTERRUPT, h.tid, 0, 0); err != nil {
			return fmt.Errorf("ptrace interrupt: %w", err)
		}
		return nil
	})
}

func (h *osHandle) context() (regs.Snapshot, error) {
	err := getTracer().do(func() error {
		if err := h.collectStops(0); err != nil {
			return err
		}
		buf := h.ctx.Bytes()
		var iov unix.Iovec
		iov.Base = &buf[0]
		iov.SetLen(len(buf))
		if err := ptrace(unix.PTRACE_GETREGSET, h.tid, uintptr(unix.NT_PRSTATUS), uintptr(unsafe.Pointer(&iov))); err != nil {
			return fmt.Errorf("ptrace getregset: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &h.ctx, nil
}

func (h *osHandle) resume() error {
	return getTracer().do(func() error {
		// The interrupt may not have been reaped if the context read
		// failed early.
		if err := h.collectStops(0); err != nil {
			return err
		}
		return h.restart()
	})
}

// restart leaves the event stop. A thread that is stopped by job control
// stays stopped.
func (h *osHandle) restart() error {
	groupStop := h.groupStop
	h.stopped = false
	h.groupStop = false
	if groupStop {
		if err := ptrace(unix.PTRACE_LISTEN, h.tid, 0, 0); err != nil {
			return fmt.Errorf("ptrace listen: %w", err)
		}
		return nil
	}
	if err := unix.PtraceCont(h.tid, 0); err != nil {
		return fmt.Errorf("ptrace cont: %w", err)
	}
	return nil
}

func (h *osHandle) close() error {
	return getTracer().do(func() error {
		if !h.stopped {
			if err := ptrace(unix.PTRACE_INTERRUPT, h.tid, 0, 0); err != nil {
				if errors.Is(err, unix.ESRCH) {
					// Collect the exit notification of a traced thread
					// that is already gone.
					var ws unix.WaitStatus
					_, _ = unix.Wait4(h.tid, &ws, unix.WALL|unix.WNOHANG, nil)
					return nil
				}
				return fmt.Errorf("ptrace interrupt: %w", err)
			}
			if err := h.collectStops(0); err != nil {
				if errors.Is(err, errThreadExited) {
					return nil
				}
				return err
			}
		}
		h.stopped = false
		h.groupStop = false
		// Detaching keeps a job control stop in effect.
		if err := unix.PtraceDetach(h.tid); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("ptrace detach: %w", err)
		}
		return nil
	})
}

var errThreadExited = errors.New("thread exited")

// collectStops reaps wait notifications of the thread until it reports a
// ptrace event stop. Signals arriving in between are delivered to the
// thread. With unix.WNOHANG it only drains what is already pending.
func (h *osHandle) collectStops(flags int) error {
	for !h.stopped {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(h.tid, &ws, unix.WALL|flags, nil)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ECHILD) {
				return errThreadExited
			}
			return fmt.Errorf("wait4: %w", err)
		}
		if wpid == 0 {
			return nil
		}

		switch {
		case ws.Exited() || ws.Signaled():
			return errThreadExited
		case !ws.Stopped():
			continue
		case uint32(ws)>>16 == unix.PTRACE_EVENT_STOP:
			// Seized threads report both interrupts and job control
			// stops as event stops; the stop signal tells them apart.
			h.stopped = true
			h.groupStop = isJobControlStop(ws.StopSignal())
		default:
			sig := ws.StopSignal()
			if sig == unix.SIGTRAP {
				sig = 0
			}
			if err := unix.PtraceCont(h.tid, int(sig)); err != nil {
				return fmt.Errorf("ptrace cont: %w", err)
			}
		}
	}
	return nil
}

func isJobControlStop(sig unix.Signal) bool {
	switch sig {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		return true
	default:
		return false
	}
}

func ptrace(request int, tid int, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(tid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
