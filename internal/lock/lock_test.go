package lock

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler captures log messages for assertions, guarded by a
// mutex since Acquire's contention loop and the test goroutine both
// touch it.
type recordingHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, r.Message)
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(substr string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func TestAcquire_ExclusiveExcludesExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.lock")
	l := New(path)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	guard, err := l.Acquire(ctx, Exclusive)
	require.NoError(t, err)
	defer guard.Release()

	l2 := New(path)
	_, err = l2.Acquire(ctx, Exclusive)
	assert.Error(t, err, "a second exclusive acquire should block until timeout and then fail")
}

func TestAcquire_SharedAllowsMultipleReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.lock")
	ctx := context.Background()

	l1 := New(path)
	g1, err := l1.Acquire(ctx, Shared)
	require.NoError(t, err)
	defer g1.Release()

	l2 := New(path)
	g2, err := l2.Acquire(ctx, Shared)
	require.NoError(t, err)
	defer g2.Release()
}

func TestRelease_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.lock")
	l := New(path)

	guard, err := l.Acquire(context.Background(), Exclusive)
	require.NoError(t, err)

	require.NoError(t, guard.Release())
	require.NoError(t, guard.Release())
}

func TestAcquire_WarnsOnceAfterOneSecondOfContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.lock")

	holder := New(path)
	guard, err := holder.Acquire(context.Background(), Exclusive)
	require.NoError(t, err)
	defer guard.Release()

	handler := &recordingHandler{}
	waiter := New(path).WithLogger(slog.New(handler))

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	_, err = waiter.Acquire(ctx, Exclusive)
	assert.Error(t, err, "the holder never released, so the waiter should time out")

	assert.Equal(t, 1, handler.count("waiting for other turnstile process"), "the waiting message must be emitted exactly once")
}

func TestAcquire_ExclusiveAfterReleaseSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.lock")

	g1, err := New(path).Acquire(context.Background(), Exclusive)
	require.NoError(t, err)
	require.NoError(t, g1.Release())

	g2, err := New(path).Acquire(context.Background(), Exclusive)
	require.NoError(t, err)
	require.NoError(t, g2.Release())
}
