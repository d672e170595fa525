// Package lock provides the single cross-process advisory lock guarding
// every mutation of turnstile's on-disk state (toolchain defaults,
// project pins, user packages, the install inventory).
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/turnstile-dev/turnstile/internal/terrors"
)

// staleAfter is how long Acquire waits on contention before it checks
// whether the process recorded as the holder is still alive.
const staleAfter = 30 * time.Second

// waitWarnAfter is how long Acquire blocks on contention before it
// reports that it's waiting, per spec.md §4.3/§5.
const waitWarnAfter = 1 * time.Second

// Mode selects whether Acquire takes a shared (read) or exclusive
// (write) hold on the lock file.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Lock wraps a single flock.Flock file, adding PID-based stale-lock
// detection on top of the OS-level advisory lock.
type Lock struct {
	path   string
	fl     *flock.Flock
	logger *slog.Logger
}

// New returns a Lock bound to path. The file is created on first
// Acquire if it does not already exist.
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// WithLogger sets the logger Acquire reports contention through. If
// never called, Acquire logs through slog.Default().
func (l *Lock) WithLogger(logger *slog.Logger) *Lock {
	l.logger = logger
	return l
}

// Guard represents a held lock. Release is idempotent and safe to defer.
type Guard struct {
	l        *Lock
	mode     Mode
	released bool
}

// Acquire blocks (respecting ctx) until the lock is obtained in the
// requested Mode. After one second of contention it logs once that it
// is waiting. Once it has waited staleAfter, it reads the PID recorded
// in the lock file a single time; if that process is no longer alive,
// the lock is broken and acquisition retried. A missing or unreadable
// PID counts as a live holder, so the lock is then left in place.
func (l *Lock) Acquire(ctx context.Context, mode Mode) (*Guard, error) {
	start := time.Now()
	deadline := start.Add(staleAfter)
	warnedStale := false
	warnedWaiting := false

	for {
		ok, err := l.tryAcquire(mode)
		if err != nil {
			return nil, err
		}
		if ok {
			if mode == Exclusive {
				if err := l.writePID(); err != nil {
					_ = l.release(mode)
					return nil, err
				}
			}
			return &Guard{l: l, mode: mode}, nil
		}

		if !warnedWaiting && time.Since(start) > waitWarnAfter {
			warnedWaiting = true
			l.log().Warn("waiting for other turnstile process", "lock", l.path)
		}

		if !warnedStale && time.Now().After(deadline) {
			warnedStale = true
			if pid, holderAlive := l.holder(); !holderAlive {
				if err := l.breakStale(); err != nil {
					return nil, err
				}
				_ = pid
				continue
			}
		}

		select {
		case <-ctx.Done():
			pid, _ := l.holder()
			return nil, terrors.NewLockError(l.path, pid)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (l *Lock) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default()
}

func (l *Lock) tryAcquire(mode Mode) (bool, error) {
	if mode == Exclusive {
		return l.fl.TryLock()
	}
	return l.fl.TryRLock()
}

// Release unlocks the underlying file lock. Calling it more than once
// is a no-op.
func (g *Guard) Release() error {
	if g.released {
		return nil
	}
	g.released = true
	return g.l.release(g.mode)
}

func (l *Lock) release(mode Mode) error {
	if mode == Exclusive {
		_ = os.Remove(pidFile(l.path))
	}
	return l.fl.Unlock()
}

func (l *Lock) writePID() error {
	return os.WriteFile(pidFile(l.path), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// holder returns the PID recorded by the current lock holder and
// whether that process still appears to be alive.
func (l *Lock) holder() (int, bool) {
	data, err := os.ReadFile(pidFile(l.path))
	if err != nil {
		return 0, true // unknown holder, assume alive to avoid breaking live locks
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	return pid, processAlive(pid)
}

func (l *Lock) breakStale() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("breaking stale lock: %w", err)
	}
	_ = os.Remove(pidFile(l.path))
	l.fl = flock.New(l.path)
	return nil
}

func pidFile(lockPath string) string {
	return lockPath + ".pid"
}
