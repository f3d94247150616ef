package watch

import (
	"os"
	"path/filepath"
)

// StartupLogName is the file detached watchers write their output to.
const StartupLogName = "daemon_startup.log"

func openStartupLog() (*os.File, error) {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, StartupLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// StopAllDaemons stops every live watcher and returns how many stopped.
func StopAllDaemons() (int, error) {
	states, err := ListStates()
	if err != nil {
		return 0, err
	}

	stopped := 0
	for _, state := range states {
		if err := StopDaemon(state.PID); err == nil {
			stopped++
		}
	}

	return stopped, nil
}
