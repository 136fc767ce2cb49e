//go:build windows

package playbook

import (
	"os"
)

// File locking constants for Windows (no-op implementation).
// On Windows, cross-process file locking is not supported in this package.
// The mutex provides in-process concurrency safety.
const (
	lockShared    = 0
	lockExclusive = 0
)

// acquireFileLock is a no-op on Windows.
func acquireFileLock(path string, lockType int) (*os.File, error) {
	return nil, nil
}

// releaseFileLock is a no-op on Windows.
func releaseFileLock(lockFile *os.File) {
}
