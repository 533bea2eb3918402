package modelfetch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin.part")

	first, err := newFileLock(path)
	if err != nil {
		t.Fatalf("newFileLock() error = %v", err)
	}
	if err := first.TryLock(); err != nil {
		t.Fatalf("first TryLock() error = %v", err)
	}

	second, err := newFileLock(path)
	if err != nil {
		t.Fatalf("newFileLock() error = %v", err)
	}
	if err := second.TryLock(); !errors.Is(err, errLockBusy) {
		t.Errorf("second TryLock() = %v, want errLockBusy", err)
	}
	second.Unlock()

	if err := first.Unlock(); err != nil {
		t.Errorf("Unlock() error = %v", err)
	}
	// Idempotent
	if err := first.Unlock(); err != nil {
		t.Errorf("second Unlock() error = %v", err)
	}

	third, err := newFileLock(path)
	if err != nil {
		t.Fatalf("newFileLock() error = %v", err)
	}
	defer third.Unlock()
	if err := third.TryLock(); err != nil {
		t.Errorf("TryLock() after release error = %v", err)
	}
}

func TestFileLockDiscard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin.part")

	lock, err := newFileLock(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.TryLock(); err != nil {
		t.Fatal(err)
	}
	if err := lock.discard(); err != nil {
		t.Fatalf("discard() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still present after discard")
	}
}

func TestFileLockPromote(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin.part")
	dest := filepath.Join(dir, "a.bin")

	lock, err := newFileLock(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.TryLock(); err != nil {
		t.Fatal(err)
	}
	if _, err := lock.file.Write([]byte("data")); err != nil {
		t.Fatal(err)
	}

	if err := lock.promote(dest); err != nil {
		t.Fatalf("promote() error = %v", err)
	}
	lock.Unlock()

	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "data" {
		t.Errorf("dest = %q, %v", data, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("part file still present after promote")
	}
}
