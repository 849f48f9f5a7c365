package selfupdate

import (
	"os"
	"os/exec"
)

// replaceProcess approximates exec(2) on Windows: spawn the updated
// installer with the same arguments, forward its exit code, and exit.
func replaceProcess(argv0 string, argv, envv []string) error {
	cmd := exec.Command(argv0, argv[1:]...)
	cmd.Env = envv
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	os.Exit(0)
	return nil
}
