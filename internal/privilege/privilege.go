// Package privilege inspects what the current process is allowed to do to
// other processes, and hands files created as root back to the sudo user.
package privilege

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// UserContext represents the identity of the original user when running under
// privilege escalation.
type UserContext struct {
	Username string
	UID      int
	GID      int
	HomeDir  string
}

// DetectOriginalUser returns the user who invoked sudo, or the current user
// when not running under sudo.
func DetectOriginalUser() (*UserContext, error) {
	sudoUser := os.Getenv("SUDO_USER")
	if sudoUser == "" {
		return getCurrentUser()
	}

	uidStr := os.Getenv("SUDO_UID")
	gidStr := os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return nil, fmt.Errorf("SUDO_USER set but SUDO_UID or SUDO_GID missing")
	}

	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_UID: %w", err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SUDO_GID: %w", err)
	}

	u, err := user.Lookup(sudoUser)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user %s: %w", sudoUser, err)
	}

	return &UserContext{
		Username: sudoUser,
		UID:      uid,
		GID:      gid,
		HomeDir:  u.HomeDir,
	}, nil
}

func getCurrentUser() (*UserContext, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	return &UserContext{
		Username: u.Username,
		UID:      os.Getuid(),
		GID:      os.Getgid(),
		HomeDir:  u.HomeDir,
	}, nil
}

// IsRoot checks if the current process is running with root privileges (euid
// == 0).
func IsRoot() bool {
	return os.Geteuid() == 0
}

// IsRunningUnderSudo checks if the process is running under sudo by checking
// for the SUDO_USER environment variable.
func IsRunningUnderSudo() bool {
	return os.Getenv("SUDO_USER") != ""
}

// FixFileOwnership gives the files at paths to the user who invoked sudo.
// Missing paths are skipped. It is a no-op unless running as root under
// sudo.
func FixFileOwnership(paths ...string) error {
	if !IsRoot() || !IsRunningUnderSudo() {
		return nil
	}

	userCtx, err := DetectOriginalUser()
	if err != nil {
		return fmt.Errorf("failed to detect original user: %w", err)
	}

	for _, path := range paths {
		if err := os.Lchown(path, userCtx.UID, userCtx.GID); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to chown %s to %d:%d: %w", path, userCtx.UID, userCtx.GID, err)
		}
	}

	return nil
}
