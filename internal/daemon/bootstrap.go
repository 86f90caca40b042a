package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// DetachedCommand builds the command that re-executes capguard as a
// background guard. The child has no host bridge and runs on detector input.
func DetachedCommand(executable string, args ...string) *exec.Cmd {
	argv := append([]string{"run", "--no-bridge"}, args...)
	cmd := exec.Command(executable, argv...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	return cmd
}

// StartDetached spawns a background guard and returns its PID.
func StartDetached(args ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}

	cmd := DetachedCommand(executable, args...)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// The child outlives us; release it instead of waiting.
	_ = cmd.Process.Release()
	return pid, nil
}
