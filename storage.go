package modelfetch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// storage resolves where one download lands on disk.
type storage struct {
	// baseDir is the absolute destination directory.
	baseDir string
}

// newStorage creates a storage rooted at location.
// An empty location means the current working directory.
// Returns ErrInvalidOptions when location exists and is not a directory.
func newStorage(location string) (*storage, error) {
	if location == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("%w: resolving working directory: %v", ErrStorageError, err)
		}
		location = wd
	}

	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("%w: location %q: %v", ErrInvalidOptions, location, err)
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%w: location %q is not a directory", ErrInvalidOptions, abs)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: location %q: %v", ErrStorageError, abs, err)
	}

	return &storage{baseDir: abs}, nil
}

// destinationPath returns the final path for filename.
func (s *storage) destinationPath(filename string) string {
	return filepath.Join(s.baseDir, filename)
}

// ensureDir creates the destination directory and its parents if needed.
func (s *storage) ensureDir() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory %s: %v", ErrStorageError, s.baseDir, err)
	}
	return nil
}

// partPath returns the in-flight path for a destination.
// It shares the destination's directory so promotion is a same-filesystem rename.
func partPath(dest string) string {
	return dest + partSuffix
}

// checkDestinationFree returns ErrAlreadyExists if dest is occupied.
func checkDestinationFree(dest string) error {
	_, err := os.Lstat(dest)
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", dest, ErrAlreadyExists)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("%w: stat %s: %v", ErrStorageError, dest, err)
	}
}

// linkNoReplace moves part to dest without ever replacing an existing dest.
// The hard link fails atomically when dest exists.
func linkNoReplace(part, dest string) error {
	if err := os.Link(part, dest); err != nil {
		return promoteError(dest, err)
	}
	if err := os.Remove(part); err != nil {
		return fmt.Errorf("%w: removing %s after link: %v", ErrStorageError, part, err)
	}
	return nil
}

// promoteError maps a failed no-replace rename to the error taxonomy.
func promoteError(dest string, err error) error {
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", dest, ErrAlreadyExists)
	}
	return fmt.Errorf("%w: promoting %s: %v", ErrStorageError, dest, err)
}
