//go:build windows

package timeres

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const timerrNoError = 0

var (
	winmm               = windows.NewLazySystemDLL("winmm.dll")
	procTimeBeginPeriod = winmm.NewProc("timeBeginPeriod")
	procTimeEndPeriod   = winmm.NewProc("timeEndPeriod")
)

type winmmPlatform struct{}

func nativePlatform() Platform {
	return winmmPlatform{}
}

func (winmmPlatform) BeginPeriod(ms uint32) error {
	if err := procTimeBeginPeriod.Find(); err != nil {
		return err
	}
	if r, _, _ := procTimeBeginPeriod.Call(uintptr(ms)); r != timerrNoError {
		return fmt.Errorf("timeBeginPeriod returned %d", r)
	}
	return nil
}

func (winmmPlatform) EndPeriod(ms uint32) error {
	if err := procTimeEndPeriod.Find(); err != nil {
		return err
	}
	if r, _, _ := procTimeEndPeriod.Call(uintptr(ms)); r != timerrNoError {
		return fmt.Errorf("timeEndPeriod returned %d", r)
	}
	return nil
}
