//go:build windows

package modelfetch

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// errLockBusy indicates another handle holds the lock.
var errLockBusy = errors.New("lock held by another writer")

// fileLock is an exclusive LockFileEx() lock on an in-flight download file.
// The locked handle is also the handle the transfer writes through.
type fileLock struct {
	// path is the locked file path.
	path string

	// file is the lock file handle.
	file *os.File

	// locked tracks whether the lock is currently held.
	locked bool
}

// newFileLock opens path, creating it if needed, without locking it.
func newFileLock(path string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	return &fileLock{
		path: path,
		file: file,
	}, nil
}

// TryLock acquires the lock without waiting.
// Returns errLockBusy if another writer holds it.
func (l *fileLock) TryLock() error {
	if l.locked {
		return nil
	}

	err := windows.LockFileEx(
		windows.Handle(l.file.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1, 0,
		&windows.Overlapped{},
	)
	if err == nil {
		l.locked = true
		return l.checkLinked()
	}
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return errLockBusy
	}
	return err
}

// checkLinked verifies the locked handle still refers to the file at path.
// A writer that discarded the file between our open and our lock leaves us
// holding an orphan, which is reported as busy.
func (l *fileLock) checkLinked() error {
	held, err := l.file.Stat()
	if err != nil {
		l.Unlock()
		return err
	}
	current, err := os.Stat(l.path)
	if err != nil || !os.SameFile(held, current) {
		l.Unlock()
		return errLockBusy
	}
	return nil
}

// promote releases the lock and renames the file to dest.
// Windows cannot rename a file with an open handle, so the lock is dropped first.
func (l *fileLock) promote(dest string) error {
	l.Unlock()
	return renameNoReplace(l.path, dest)
}

// discard releases the lock and removes the file.
func (l *fileLock) discard() error {
	l.Unlock()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Unlock releases the lock and closes the file handle.
// Safe to call multiple times.
func (l *fileLock) Unlock() error {
	if !l.locked {
		// Close the file even if not locked
		if l.file != nil {
			l.file.Close()
			l.file = nil
		}
		return nil
	}

	var unlockErr error
	if l.file != nil {
		unlockErr = windows.UnlockFileEx(
			windows.Handle(l.file.Fd()),
			0,
			1, 0,
			&windows.Overlapped{},
		)
		l.file.Close()
		l.file = nil
	}
	l.locked = false

	return unlockErr
}
