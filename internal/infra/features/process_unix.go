//go:build !windows

package features

import (
	"os/exec"
	"syscall"
)

// isolateProcess puts the feature script in its own process group so a
// Ctrl-C aimed at the supervisor does not reach it, and vice versa.
func isolateProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
