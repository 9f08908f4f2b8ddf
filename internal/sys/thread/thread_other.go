//go:build !(linux && (amd64 || arm64 || 386)) && !(windows && (amd64 || arm64 || 386))

package thread

import "github.com/coral-mesh/stacksampler/internal/sys/regs"

type osHandle struct{}

func openThread(int) (*osHandle, error) { return nil, ErrUnsupported }

func (*osHandle) suspend() error { return ErrUnsupported }
func (*osHandle) context() (regs.Snapshot, error) { return nil, ErrUnsupported }
func (*osHandle) resume() error { return ErrUnsupported }
func (*osHandle) close() error { return nil }
