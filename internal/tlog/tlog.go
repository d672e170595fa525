// Package tlog wires structured logging (log/slog, gated by
// TURNSTILE_LOGLEVEL) and writes crash reports for Bug-category and
// unhandled filesystem errors. Grounded on tomei's internal/log.Store,
// narrowed from that package's per-resource session buffering (tomei
// tracks output per installed resource across a whole apply) down to
// turnstile's single-invocation shape: one report, written once, if the
// invocation ends in a Bug.
package tlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/turnstile-dev/turnstile/internal/terrors"
)

const envLogLevel = "TURNSTILE_LOGLEVEL"

// NewLogger builds the process-wide slog.Logger, leveled by
// TURNSTILE_LOGLEVEL (error|warn|info|debug|trace; trace maps to
// slog.LevelDebug since slog has no finer level), writing text-formatted
// records to stderr.
func NewLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelFromEnv()})
	return slog.New(handler)
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv(envLogLevel)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Report is the structured crash document written to log/.
type Report struct {
	Timestamp time.Time         `json:"timestamp"`
	PID       int               `json:"pid"`
	Argv      []string          `json:"argv"`
	Env       map[string]string `json:"env"`
	Error     string            `json:"error"`
}

var sensitiveEnv = regexp.MustCompile(`(?i)(TOKEN|SECRET|KEY|PASSWORD)`)

// WriteCrashReport writes argv, a filtered environment snapshot, and
// err's full chain (rendered with %+v) to log/<RFC3339>-<pid>.json, per
// spec.md §7. Called for terrors.IsBug(err) or an unhandled filesystem
// error encountered during a mutation.
func WriteCrashReport(logDir string, argv []string, err error) (string, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", err
	}

	report := Report{
		Timestamp: time.Now(),
		PID:       os.Getpid(),
		Argv:      argv,
		Env:       filteredEnv(),
		Error:     fmt.Sprintf("%+v", err),
	}

	name := fmt.Sprintf("%s-%d.json", report.Timestamp.Format(time.RFC3339), report.PID)
	path := filepath.Join(logDir, sanitizeFilename(name))

	data, marshalErr := json.MarshalIndent(report, "", "  ")
	if marshalErr != nil {
		return "", marshalErr
	}
	if writeErr := os.WriteFile(path, data, 0o644); writeErr != nil {
		return "", writeErr
	}
	return path, nil
}

func sanitizeFilename(name string) string {
	return strings.ReplaceAll(name, ":", "-")
}

func filteredEnv() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if sensitiveEnv.MatchString(k) {
			v = "<redacted>"
		}
		out[k] = v
	}
	return out
}

// MaybeReport writes a crash report when err warrants one (a Bug, or an
// unhandled filesystem error surfacing during a mutating command), and
// returns the report path for the CLI to mention, or "" if none was
// written.
func MaybeReport(logDir string, argv []string, err error, mutating bool) string {
	if err == nil {
		return ""
	}
	isFSDuringMutation := mutating && isFileSystemError(err)
	if !terrors.IsBug(err) && !isFSDuringMutation {
		return ""
	}
	path, writeErr := WriteCrashReport(logDir, argv, err)
	if writeErr != nil {
		return ""
	}
	return path
}

func isFileSystemError(err error) bool {
	return terrors.CategoryOf(err) == terrors.CategoryFileSystem
}
