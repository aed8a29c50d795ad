// Package file provides advisory file locks shared between processes.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ErrLocked is returned when another open file description holds the lock.
var ErrLocked = errors.New("file is locked")

const _fileMode fs.FileMode = 0o600

// Lock is an exclusive flock on a file.
type Lock struct {
	path string
	f    *os.File
}

// TryLock takes an exclusive lock on path, creating the file if needed.
// It never blocks: a held lock yields ErrLocked.
func TryLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, _fileMode)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &Lock{path: path, f: f}, nil
}

// IsLocked reports whether path is currently locked by someone else.
func IsLocked(path string) bool {
	l, err := TryLock(path)
	if err != nil {
		return errors.Is(err, ErrLocked)
	}
	_ = l.Unlock()
	return false
}

// Path returns the locked file.
func (l *Lock) Path() string {
	return l.path
}

// Unlock releases the lock and closes the file.
func (l *Lock) Unlock() error {
	defer l.f.Close()
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}
