//go:build linux

package modelfetch

import (
	"errors"

	"golang.org/x/sys/unix"
)

// renameNoReplace atomically renames part to dest, failing if dest exists.
// Uses renameat2(RENAME_NOREPLACE); filesystems without it fall back to link/unlink.
func renameNoReplace(part, dest string) error {
	err := unix.Renameat2(unix.AT_FDCWD, part, unix.AT_FDCWD, dest, unix.RENAME_NOREPLACE)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) {
		return linkNoReplace(part, dest)
	}
	return promoteError(dest, err)
}
