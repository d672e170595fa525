// Package toolchain persists the user-default Platform at
// tools/user/platform.json: the fallback spec.md §4.11 describes when no
// project pin applies. Directly grounded on tomei's
// internal/state.Store[T] (Lock/Load/Save/Unlock around one JSON file),
// specialized from tomei's generic-over-state-kind design to the single
// Platform this module tracks.
package toolchain

import (
	"context"
	"encoding/json"
	"os"

	"github.com/turnstile-dev/turnstile/internal/fsutil"
	"github.com/turnstile-dev/turnstile/internal/layout"
	"github.com/turnstile-dev/turnstile/internal/lock"
	"github.com/turnstile-dev/turnstile/internal/terrors"
)

// Document is the canonical on-disk shape of platform.json: the same
// node/npm/yarn/pnpm string fields the manifest "volta" key uses, since
// spec.md §6 specifies "same shape without extends".
type Document struct {
	Node string `json:"node,omitempty"`
	Npm  string `json:"npm,omitempty"`
	Yarn string `json:"yarn,omitempty"`
	Pnpm string `json:"pnpm,omitempty"`
}

// Store reads and writes the user default under the shared exclusive
// lock.
type Store struct {
	layout *layout.Layout
	lock   *lock.Lock
}

func New(l *layout.Layout, lk *lock.Lock) *Store {
	return &Store{layout: l, lock: lk}
}

// Load returns the current default, or a zero Document if none has ever
// been set. Callers that only read may skip locking (spec.md §5: "read
// without a lock, retry on missing files"); Load does not take one.
func (s *Store) Load() (Document, error) {
	data, err := os.ReadFile(s.layout.UserPlatformFile())
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "reading user platform", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, terrors.Wrap(terrors.CategoryState, terrors.CodeStateCorrupt, "parsing user platform.json", err)
	}
	return doc, nil
}

// SetDefault performs a read-modify-write of one field under the
// exclusive lock, matching spec.md §4.11's contract.
func (s *Store) SetDefault(ctx context.Context, field, version string) error {
	guard, err := s.lock.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return err
	}
	defer guard.Release()

	doc, err := s.Load()
	if err != nil {
		return err
	}
	switch field {
	case "node":
		doc.Node = version
	case "npm":
		doc.Npm = version
	case "yarn":
		doc.Yarn = version
	case "pnpm":
		doc.Pnpm = version
	default:
		return terrors.NewValidationError("field", "node|npm|yarn|pnpm", field)
	}

	return s.save(doc)
}

// save serializes doc with the canonical 2-space/LF/fixed-key-order
// encoding spec.md §6 requires for platform.json.
func (s *Store) save(doc Document) error {
	var buf []byte
	buf = append(buf, '{', '\n')
	type kv struct{ key, value string }
	var pairs []kv
	if doc.Node != "" {
		pairs = append(pairs, kv{"node", doc.Node})
	}
	if doc.Npm != "" {
		pairs = append(pairs, kv{"npm", doc.Npm})
	}
	if doc.Yarn != "" {
		pairs = append(pairs, kv{"yarn", doc.Yarn})
	}
	if doc.Pnpm != "" {
		pairs = append(pairs, kv{"pnpm", doc.Pnpm})
	}
	for i, p := range pairs {
		k, _ := json.Marshal(p.key)
		v, _ := json.Marshal(p.value)
		buf = append(buf, []byte("  ")...)
		buf = append(buf, k...)
		buf = append(buf, ':', ' ')
		buf = append(buf, v...)
		if i < len(pairs)-1 {
			buf = append(buf, ',')
		}
		buf = append(buf, '\n')
	}
	buf = append(buf, '}', '\n')

	return fsutil.WriteFileAtomic(s.layout.UserPlatformFile(), buf, 0o644)
}
