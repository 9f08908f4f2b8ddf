//go:build windows

package thread

import "golang.org/x/sys/windows"

// CurrentID returns the ID of the calling OS thread.
func CurrentID() int {
	return int(windows.GetCurrentThreadId())
}
