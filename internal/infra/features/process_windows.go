package features

import (
	"os/exec"
	"syscall"
)

// isolateProcess runs the feature script in a new process group and
// without a console window.
func isolateProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
