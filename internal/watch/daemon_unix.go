//go:build !windows

package watch

import (
	"os"
	"os/exec"
	"syscall"
)

// StartDaemon re-executes the current binary with args in its own process
// group and returns the child's pid. Output goes to the startup log.
func StartDaemon(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(exe, args...)

	// Unix-specific detachment
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	if logFile, err := openStartupLog(); err == nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		defer logFile.Close()
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	go cmd.Wait()

	return cmd.Process.Pid, nil
}

// StopDaemon asks the watcher with the given pid to exit.
func StopDaemon(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		if err := process.Kill(); err != nil {
			return err
		}
	}
	return RemoveState(pid)
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
