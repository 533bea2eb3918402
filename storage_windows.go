//go:build windows

package modelfetch

import (
	"golang.org/x/sys/windows"
)

// renameNoReplace atomically renames part to dest, failing if dest exists.
// MoveFileEx without MOVEFILE_REPLACE_EXISTING refuses to overwrite.
func renameNoReplace(part, dest string) error {
	from, err := windows.UTF16PtrFromString(part)
	if err != nil {
		return promoteError(dest, err)
	}
	to, err := windows.UTF16PtrFromString(dest)
	if err != nil {
		return promoteError(dest, err)
	}
	if err := windows.MoveFileEx(from, to, windows.MOVEFILE_WRITE_THROUGH); err != nil {
		return promoteError(dest, err)
	}
	return nil
}
