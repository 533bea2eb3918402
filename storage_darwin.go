//go:build darwin

package modelfetch

import (
	"errors"

	"golang.org/x/sys/unix"
)

// renameNoReplace atomically renames part to dest, failing if dest exists.
// Uses renamex_np(RENAME_EXCL); volumes without it fall back to link/unlink.
func renameNoReplace(part, dest string) error {
	err := unix.RenamexNp(part, dest, unix.RENAME_EXCL)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EINVAL) {
		return linkNoReplace(part, dest)
	}
	return promoteError(dest, err)
}
