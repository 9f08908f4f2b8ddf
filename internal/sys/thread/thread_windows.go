//go:build windows && (amd64 || arm64 || 386)

package thread

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/coral-mesh/stacksampler/internal/sys/regs"
)

const (
	threadSuspendResume    = 0x0002
	threadGetContext       = 0x0008
	threadQueryInformation = 0x0040

	threadAccess = threadGetContext | threadSuspendResume | threadQueryInformation
)

var (
	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procSuspendThread    = kernel32.NewProc("SuspendThread")
	procResumeThread     = kernel32.NewProc("ResumeThread")
	procGetThreadContext = kernel32.NewProc("GetThreadContext")
)

type osHandle struct {
	handle windows.Handle
	ctx    *regs.Context
}

func openThread(tid int) (*osHandle, error) {
	h, err := windows.OpenThread(threadAccess, false, uint32(tid))
	if err != nil {
		return nil, fmt.Errorf("open thread: %w", err)
	}
	return &osHandle{handle: h, ctx: regs.NewContext()}, nil
}

func (h *osHandle) suspend() error {
	r, _, err := procSuspendThread.Call(uintptr(h.handle))
	if int32(r) == -1 {
		return err
	}
	return nil
}

func (h *osHandle) context() (regs.Snapshot, error) {
	r, _, err := procGetThreadContext.Call(uintptr(h.handle), uintptr(unsafe.Pointer(h.ctx)))
	if r == 0 {
		return nil, err
	}
	return h.ctx, nil
}

func (h *osHandle) resume() error {
	r, _, err := procResumeThread.Call(uintptr(h.handle))
	if int32(r) == -1 {
		return err
	}
	return nil
}

func (h *osHandle) close() error {
	return windows.CloseHandle(h.handle)
}
