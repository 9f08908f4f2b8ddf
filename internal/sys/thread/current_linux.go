//go:build linux

package thread

import "golang.org/x/sys/unix"

// CurrentID returns the ID of the calling OS thread.
func CurrentID() int {
	return unix.Gettid()
}
