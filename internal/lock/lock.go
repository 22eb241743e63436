// Package lock guards a workspace against concurrent release runs.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("lock held by another run")

// FileLock is an advisory flock on a file. The file records the holder's
// pid and run id.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Workspace returns the run lock of a .cascade directory.
func Workspace(cascadeDir string) *FileLock {
	return NewFileLock(filepath.Join(cascadeDir, "locks", "run.lock"))
}

// TryLock acquires the lock without blocking.
func (fl *FileLock) TryLock(runID string) error {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrHeld, describeHolder(fl.path))
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) error {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("%s lock file: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("seek", err)
	}
	if _, err := fmt.Fprintf(f, "%d %s\n", os.Getpid(), runID); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	fl.file = f
	return nil
}

func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return path
	}
	fields := strings.Fields(string(data))
	switch len(fields) {
	case 0:
		return path
	case 1:
		return fmt.Sprintf("%s (pid %s)", path, fields[0])
	default:
		return fmt.Sprintf("%s (pid %s, run %s)", path, fields[0], fields[1])
	}
}

// Unlock clears the holder record and releases the lock. The file itself
// stays: removing it would let a waiter on the old inode and a new opener
// both hold a lock.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	_ = fl.file.Truncate(0)
	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	fl.file = nil
	return nil
}
