//go:build !windows

package selfupdate

import "syscall"

// replaceProcess swaps the process image for the updated installer.
// Does not return on success.
func replaceProcess(argv0 string, argv, envv []string) error {
	return syscall.Exec(argv0, argv, envv)
}
