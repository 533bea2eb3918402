//go:build !linux && !darwin && !windows

package modelfetch

// renameNoReplace moves part to dest, failing if dest exists.
func renameNoReplace(part, dest string) error {
	return linkNoReplace(part, dest)
}
