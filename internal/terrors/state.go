package terrors

import "fmt"

// StateError reports a problem reading or mutating the on-disk
// toolchain/project/userpkgs state, including lock contention.
type StateError struct {
	Base     Error  `json:"error"`
	LockPID  int    `json:"lockPid,omitempty"`
	LockFile string `json:"lockFile,omitempty"`
}

func NewStateError(message string, cause error) *StateError {
	return &StateError{
		Base: Error{
			Category: CategoryState,
			Code:     CodeStateCorrupt,
			Message:  message,
			Cause:    cause,
		},
	}
}

// NewLockError reports that the lock is held by another process; the
// hint names that process's PID and the lock file.
func NewLockError(lockFile string, lockPID int) *StateError {
	hint := fmt.Sprintf(
		"Another turnstile process (PID %d) is holding the lock.\n"+
			"Wait for it to finish, or remove %s if that process is no longer running.",
		lockPID, lockFile)
	return &StateError{
		Base: Error{
			Category: CategoryState,
			Code:     CodeLockContention,
			Message:  "state locked",
			Hint:     hint,
		},
		LockPID:  lockPID,
		LockFile: lockFile,
	}
}

// NewNoPlatformError reports that no Platform could be resolved at all
// (no project pin, no user default, no command-line override).
func NewNoPlatformError() *StateError {
	return &StateError{
		Base: Error{
			Category: CategoryState,
			Code:     CodeNoPlatform,
			Message:  "no Node version configured",
			Hint:     "Run 'turnstile install node@<version>' to set a default, or pin a version in package.json.",
		},
	}
}

func (e *StateError) Error() string { return e.Base.Error() }
func (e *StateError) Unwrap() error { return e.Base.Cause }
func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return e.Base.Code == t.Base.Code
}
