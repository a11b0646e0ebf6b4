package utils

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".exomirror.lock"

// MirrorLock manages a file-based lock on the mirror destination root.
// Two processes syncing into the same destination would race on
// temporary file names and completion markers, so the second one is
// refused instead of queued.
type MirrorLock struct {
	lock *flock.Flock
	path string
}

// NewMirrorLock creates a new lock for the given destination root.
func NewMirrorLock(root string) (*MirrorLock, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve destination path: %w", err)
	}
	lockPath := filepath.Join(absRoot, lockFileName)
	return &MirrorLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

// Lock acquires the destination lock. It fails immediately when another
// process already holds it.
func (l *MirrorLock) Lock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("another exomirror process is syncing %s, refusing to run", filepath.Dir(l.path))
	}
	return nil
}

// Unlock releases the destination lock.
func (l *MirrorLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}
