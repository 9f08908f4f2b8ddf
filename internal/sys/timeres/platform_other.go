//go:build !windows

package timeres

// Linux and other Unix kernels run high resolution timers already.
type noopPlatform struct{}

func nativePlatform() Platform {
	return noopPlatform{}
}

func (noopPlatform) BeginPeriod(uint32) error { return nil }

func (noopPlatform) EndPeriod(uint32) error { return nil }
