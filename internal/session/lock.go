package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by AcquireHostLock while another host holds the lock.
var ErrLocked = errors.New("another tslive host is running")

// HostLock is the advisory lock a host holds for its whole lifetime, so
// that only one host runs per data directory.
type HostLock struct {
	fl *flock.Flock
}

// AcquireHostLock takes tslive.lock in the data directory without blocking.
func AcquireHostLock() (*HostLock, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, "tslive.lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &HostLock{fl: fl}, nil
}

// Release drops the lock. The lock file itself is left in place.
func (l *HostLock) Release() error {
	return l.fl.Unlock()
}
