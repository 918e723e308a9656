// Package filelock provides an exclusive advisory lock on a file.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLockTimeout indicates the lock acquisition timed out
var ErrLockTimeout = errors.New("lock acquisition timed out")

// FileLock is an exclusive flock(2) lock shared between processes. The kernel
// releases it when the process exits or crashes.
type FileLock struct {
	path string
	file *os.File
}

// New creates a lock at path. The file and its parent directories are
// created on first use.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock attempts to acquire the lock without blocking. It returns false
// when another process holds it; errors are reserved for unexpected failures.
func (l *FileLock) TryLock() (bool, error) {
	if err := l.open(); err != nil {
		return false, err
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	l.release()
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return false, nil
	}
	return false, fmt.Errorf("flock failed: %w", err)
}

// LockWithContext blocks until the lock is acquired, the timeout expires or
// the context is cancelled.
func (l *FileLock) LockWithContext(ctx context.Context, timeout time.Duration) error {
	if err := l.open(); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	pollInterval := 10 * time.Millisecond
	maxPollInterval := 500 * time.Millisecond

	for {
		if err := ctx.Err(); err != nil {
			l.release()
			return err
		}
		if time.Now().After(deadline) {
			l.release()
			return ErrLockTimeout
		}

		err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			l.release()
			return fmt.Errorf("flock failed: %w", err)
		}

		select {
		case <-ctx.Done():
			l.release()
			return ctx.Err()
		case <-time.After(pollInterval):
			pollInterval = min(pollInterval*2, maxPollInterval)
		}
	}
}

// Unlock releases the lock. Unlocking an unlocked FileLock is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("flock unlock failed: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close failed: %w", closeErr)
	}
	return nil
}

// IsLocked reports whether this instance holds the lock.
func (l *FileLock) IsLocked() bool {
	return l.file != nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) open() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	l.file = file
	return nil
}

func (l *FileLock) release() {
	_ = l.file.Close()
	l.file = nil
}
