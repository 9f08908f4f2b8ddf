//go:build !linux && !windows

package thread

// CurrentID returns 0 where thread IDs are not exposed.
func CurrentID() int {
	return 0
}
