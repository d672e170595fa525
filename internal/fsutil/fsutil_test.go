package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"ok":true}`), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "no leftover temp file after a successful write")
	}
}

func TestStageAndCommit_Success(t *testing.T) {
	tmpRoot := filepath.Join(t.TempDir(), "tmp")
	finalPath := filepath.Join(t.TempDir(), "image", "node", "20.0.0")

	err := StageAndCommit(tmpRoot, func(staging string) error {
		return os.WriteFile(filepath.Join(staging, "bin"), []byte("binary"), 0o755)
	}, finalPath)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(finalPath, "bin"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	remaining, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, remaining, "staging directory should be gone once committed")
}

func TestStageAndCommit_BuildFailureLeavesNoStagingAndNoFinal(t *testing.T) {
	tmpRoot := filepath.Join(t.TempDir(), "tmp")
	finalPath := filepath.Join(t.TempDir(), "image", "node", "20.0.0")
	buildErr := errors.New("download failed")

	err := StageAndCommit(tmpRoot, func(staging string) error {
		return buildErr
	}, finalPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, buildErr)

	exists, err := Exists(finalPath)
	require.NoError(t, err)
	assert.False(t, exists)

	remaining, err := os.ReadDir(tmpRoot)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRenameWithRetry_ExhaustsWithinOneSecond(t *testing.T) {
	dir := t.TempDir()
	missingSrc := filepath.Join(dir, "does-not-exist")
	dst := filepath.Join(dir, "dst")

	start := time.Now()
	err := RenameWithRetry(missingSrc, dst)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, time.Second, "10 retry attempts must total under 1s per the documented bound")
}

func TestCreateShim_Symlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "turnstile")
	require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755))

	link := filepath.Join(dir, "bin", "node")
	strategy, err := CreateShim(target, link)
	require.NoError(t, err)
	assert.Equal(t, StrategySymlink, strategy)

	resolved, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, target, resolved)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	ok, err := Exists(present)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.False(t, ok)
}
