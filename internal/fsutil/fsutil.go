// Package fsutil provides the atomic filesystem primitives every
// mutating component builds on: staged-directory commits, atomic file
// writes, and shim creation with symlink/hardlink/copy fallback.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// WriteFileAtomic writes data to path by writing to a sibling temp file
// and renaming it into place, so a concurrent reader never observes a
// partially written file.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	return RenameWithRetry(tmpPath, path)
}

// StageAndCommit calls build with a fresh empty directory under
// tmpRoot, then atomically moves that directory to finalPath once build
// succeeds. On any failure the staging directory is removed and
// finalPath is left untouched.
func StageAndCommit(tmpRoot string, build func(stagingDir string) error, finalPath string) (err error) {
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return fmt.Errorf("creating staging root %s: %w", tmpRoot, err)
	}
	staging := filepath.Join(tmpRoot, fmt.Sprintf("staging-%x", rand.Uint64())) //nolint:gosec // not security sensitive, just a unique dir name
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("creating staging dir %s: %w", staging, err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(staging)
		}
	}()

	if err := build(staging); err != nil {
		return fmt.Errorf("staging %s: %w", finalPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", finalPath, err)
	}
	if err := RenameWithRetry(staging, finalPath); err != nil {
		return fmt.Errorf("committing %s: %w", finalPath, err)
	}
	return nil
}

// renameRetryCap bounds RenameWithRetry's backoff so its 10 attempts
// total at most 1s, per spec.md §4.2's "retry with backoff, 10
// attempts, total ≤ 1 s" bound.
const renameRetryCap = 200 * time.Millisecond

// RenameWithRetry renames src to dst, retrying briefly on Windows where
// a just-closed file handle can still be held by the OS for a moment.
// The 9 sleeps between its 10 attempts (5, 10, 20, 40, 80, 160, 200,
// 200, 200 ms) sum to under 1s.
func RenameWithRetry(src, dst string) error {
	var lastErr error
	backoff := 5 * time.Millisecond
	for attempt := 0; attempt < 10; attempt++ {
		if err := os.Rename(src, dst); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == 9 {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > renameRetryCap {
			backoff = renameRetryCap
		}
	}
	return fmt.Errorf("renaming %s to %s after retries: %w", src, dst, lastErr)
}

// CopyTree recursively copies src to dst, preserving file modes.
// CreateShim does not use it; its copy fallback copies a single file.
func CopyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// ShimStrategy records how CreateShim satisfied a request, so Uninstall
// knows whether it is removing a symlink, a hardlink, or a standalone copy.
type ShimStrategy string

const (
	StrategySymlink  ShimStrategy = "symlink"
	StrategyHardlink ShimStrategy = "hardlink"
	StrategyCopy     ShimStrategy = "copy"
)

// CreateShim places a shim at linkPath that ultimately runs target,
// trying symlink, then hardlink, then a full copy as a last resort.
func CreateShim(target, linkPath string) (ShimStrategy, error) {
	_ = os.Remove(linkPath)
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return "", fmt.Errorf("creating shim directory: %w", err)
	}

	if err := os.Symlink(target, linkPath); err == nil {
		return StrategySymlink, nil
	}

	if err := os.Link(target, linkPath); err == nil {
		return StrategyHardlink, nil
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("stat shim target %s: %w", target, err)
	}
	if err := copyFile(target, linkPath, info.Mode()); err != nil {
		return "", fmt.Errorf("copying shim %s: %w", linkPath, err)
	}
	return StrategyCopy, nil
}

// Exists reports whether path exists, treating any error other than
// "not found" as a hard failure the caller must handle.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
