//go:build !windows

package lock

import (
	"os"
	"syscall"
)

// processAlive probes pid with the zero signal, which delivers nothing
// but still fails if the process doesn't exist or isn't ours to signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
