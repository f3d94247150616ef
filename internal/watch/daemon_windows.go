//go:build windows

package watch

import (
	"os"
	"os/exec"
	"syscall"
)

// StartDaemon re-executes the current binary with args in a new process
// group and returns the child's pid. Output goes to the startup log.
func StartDaemon(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(exe, args...)

	// Windows-specific detachment: Create new process group
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
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

// StopDaemon terminates the watcher with the given pid. Windows has no
// SIGTERM, so the process is killed.
func StopDaemon(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Kill(); err != nil {
		return err
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
