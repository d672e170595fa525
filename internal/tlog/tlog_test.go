package tlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnstile-dev/turnstile/internal/terrors"
)

func TestWriteCrashReport_RedactsSensitiveEnvVars(t *testing.T) {
	t.Setenv("TURNSTILE_TEST_TOKEN", "super-secret")
	t.Setenv("TURNSTILE_TEST_PLAIN", "not-secret")

	dir := t.TempDir()
	path, err := WriteCrashReport(dir, []string{"turnstile", "install", "node"}, terrors.New(terrors.CategoryBug, terrors.CodeBug, "boom"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "<redacted>", report.Env["TURNSTILE_TEST_TOKEN"])
	assert.Equal(t, "not-secret", report.Env["TURNSTILE_TEST_PLAIN"])
	assert.Equal(t, []string{"turnstile", "install", "node"}, report.Argv)
	assert.Contains(t, report.Error, "boom")
}

func TestWriteCrashReport_FilenameHasNoColons(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteCrashReport(dir, nil, terrors.New(terrors.CategoryBug, terrors.CodeBug, "boom"))
	require.NoError(t, err)
	assert.NotContains(t, filepath.Base(path), ":")
}

func TestMaybeReport_NilErrorWritesNothing(t *testing.T) {
	assert.Equal(t, "", MaybeReport(t.TempDir(), nil, nil, true))
}

func TestMaybeReport_BugErrorWritesReport(t *testing.T) {
	dir := t.TempDir()
	path := MaybeReport(dir, []string{"turnstile"}, terrors.New(terrors.CategoryBug, terrors.CodeBug, "boom"), false)
	assert.NotEmpty(t, path)
	assert.FileExists(t, path)
}

func TestMaybeReport_FileSystemErrorDuringMutationWritesReport(t *testing.T) {
	dir := t.TempDir()
	fsErr := terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "writing staged archive", assert.AnError)
	path := MaybeReport(dir, nil, fsErr, true)
	assert.NotEmpty(t, path)
}

func TestMaybeReport_FileSystemErrorOutsideMutationIsSilent(t *testing.T) {
	dir := t.TempDir()
	fsErr := terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "reading package record", assert.AnError)
	assert.Equal(t, "", MaybeReport(dir, nil, fsErr, false))
}

func TestMaybeReport_OrdinaryErrorIsSilent(t *testing.T) {
	dir := t.TempDir()
	ordinary := terrors.New(terrors.CategoryInput, terrors.CodeInvalidVersionSpec, "bad spec")
	assert.Equal(t, "", MaybeReport(dir, nil, ordinary, true))
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]string{
		"":      "WARN",
		"debug": "DEBUG",
		"trace": "DEBUG",
		"info":  "INFO",
		"warn":  "WARN",
		"error": "ERROR",
	}
	for env, want := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(envLogLevel, env)
			assert.Equal(t, want, levelFromEnv().String())
		})
	}
}
