package record

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// childStopTimeout bounds how long a spawned command gets to exit after
// SIGINT before it is killed.
const childStopTimeout = 5 * time.Second

// exitPollInterval is how often a spawned command is checked for exit.
const exitPollInterval = 50 * time.Millisecond

// target is the process being sampled. cmd is set when stacksampler
// started it; exited is closed once it has exited.
type target struct {
	pid      int
	cmd      *exec.Cmd
	exited   chan struct{}
	// waitErr holds the wait result where watchExit reaps the command.
	waitErr  error
	stopOnce sync.Once
	logger   zerolog.Logger
}

func attach(pid int, logger zerolog.Logger) (*target, error) {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	// Signal 0 only checks that the process exists and is reachable.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return nil, fmt.Errorf("process %d is not running: %w", pid, err)
	}
	return &target{pid: pid, logger: logger}, nil
}

func spawn(args []string, logger zerolog.Logger) (*target, error) {
	// #nosec G204 -- running the given command is the point.
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	t := &target{
		pid:    cmd.Process.Pid,
		cmd:    cmd,
		exited: make(chan struct{}),
		logger: logger,
	}
	go t.watchExit()

	logger.Info().Int("pid", t.pid).Strs("command", args).Msg("Started command")
	return t, nil
}

// stop interrupts a spawned command, waits for it to exit and collects its
// exit status. Attached processes are left running. Every thread of the
// command must be detached before stop is called.
func (t *target) stop() {
	if t.cmd == nil {
		return
	}
	t.stopOnce.Do(func() {
		select {
		case <-t.exited:
		default:
			_ = t.cmd.Process.Signal(os.Interrupt)
			select {
			case <-t.exited:
			case <-time.After(childStopTimeout):
				t.logger.Warn().Int("pid", t.pid).Msg("Command did not exit after interrupt, killing it")
				_ = t.cmd.Process.Kill()
				<-t.exited
			}
		}
		t.reap()
	})
}

// reap collects the exit status of the spawned command.
func (t *target) reap() {
	err := t.wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.As(err, &exitErr):
		t.logger.Info().Int("pid", t.pid).Int("exit_code", t.cmd.ProcessState.ExitCode()).Msg("Command exited")
	case errors.Is(err, syscall.ECHILD):
		// Collected while detaching from its last thread.
		t.logger.Debug().Int("pid", t.pid).Msg("Command exit status already collected")
	default:
		t.logger.Warn().Err(err).Int("pid", t.pid).Msg("Failed to wait for command")
	}
}
