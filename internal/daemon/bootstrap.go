package daemon

import (
	"fmt"
	"os/exec"
	"syscall"
)

// StartMonitor spawns a detached monitor process from binaryPath.
// Hidden command: appblock monitor --data-dir <dir>
func StartMonitor(binaryPath, dataDir string) error {
	cmd := exec.Command(binaryPath, monitorArgs(dataDir)...)

	// Detach from the terminal and the parent process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	return cmd.Process.Release()
}

func monitorArgs(dataDir string) []string {
	args := []string{"monitor"}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	return args
}
