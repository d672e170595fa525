//go:build windows

package lock

import "os"

// processAlive opens the process handle; os.FindProcess on Windows
// actually attempts to open the process and fails if it is gone.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
