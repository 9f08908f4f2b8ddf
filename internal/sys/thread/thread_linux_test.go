//go:build linux && (amd64 || arm64 || 386)

package thread

import (
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacksampler/internal/sys/proc"
	"github.com/coral-mesh/stacksampler/internal/testutil"
)

func startSleeper(t *testing.T) int {
	t.Helper()

	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}

	cmd := exec.Command(path, "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd.Process.Pid
}

func startBusyLoop(t *testing.T) int {
	t.Helper()

	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	cmd := exec.Command(path, "-c", "while :; do :; done")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd.Process.Pid
}

// sampleOnce runs one suspend, read, resume cycle and fails the test if it
// does not finish in time.
func sampleOnce(t *testing.T, h *Handle) {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		if err := h.Suspend(); err != nil {
			done <- err
			return
		}
		if _, err := h.GetContext(); err != nil {
			_ = h.Resume()
			done <- err
			return
		}
		done <- h.Resume()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sample cycle blocked")
	}
}

func threadState(t *testing.T, pid int) byte {
	t.Helper()
	stat, err := proc.ReadThreadStat(pid, pid)
	require.NoError(t, err)
	return stat.State
}

func TestAcquire_CallingThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h := Acquire(CurrentID(), testutil.NewTestLogger(t))
	assert.True(t, h.Empty())
}

func TestHandle_SuspendCaptureResume(t *testing.T) {
	tid := startSleeper(t)

	h := Acquire(tid, testutil.NewTestLogger(t))
	if h.Empty() {
		t.Skip("ptrace not permitted in this environment")
	}
	assert.Equal(t, tid, h.ID())

	for range 3 {
		require.NoError(t, h.Suspend())

		ctx, err := h.GetContext()
		require.NoError(t, err)
		r := ctx.Registers()
		assert.NotZero(t, r.PC)
		assert.NotZero(t, r.SP)

		require.NoError(t, h.Resume())
	}

	require.NoError(t, h.Release())
	assert.True(t, h.Empty())
	require.NoError(t, h.Release(), "second release is a no-op")
}

func TestHandle_ResumeWithoutContext(t *testing.T) {
	tid := startSleeper(t)

	h := Acquire(tid, testutil.NewTestLogger(t))
	if h.Empty() {
		t.Skip("ptrace not permitted in this environment")
	}
	defer h.Release() // nolint:errcheck

	require.NoError(t, h.Suspend())
	require.NoError(t, h.Resume())
}

func TestHandle_KeepsJobControlStop(t *testing.T) {
	pid := startBusyLoop(t)

	h := Acquire(pid, testutil.NewTestLogger(t))
	if h.Empty() {
		t.Skip("ptrace not permitted in this environment")
	}
	defer h.Release() // nolint:errcheck

	sampleOnce(t, h)

	require.NoError(t, syscall.Kill(pid, syscall.SIGSTOP))
	for range 3 {
		sampleOnce(t, h)
	}

	// Still stopped by job control, not running the loop.
	time.Sleep(50 * time.Millisecond)
	assert.Contains(t, []byte{'T', 't'}, threadState(t, pid))

	require.NoError(t, syscall.Kill(pid, syscall.SIGCONT))
	deadline := time.Now().Add(5 * time.Second)
	for threadState(t, pid) != 'R' {
		require.True(t, time.Now().Before(deadline), "thread did not run again after SIGCONT")
		sampleOnce(t, h)
		time.Sleep(20 * time.Millisecond)
	}
}
