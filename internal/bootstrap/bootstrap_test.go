package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHookDocs_MissingFileReturnsNil(t *testing.T) {
	docs := loadHookDocs(filepath.Join(t.TempDir(), "hooks.json"))
	assert.Nil(t, docs)
}

func TestLoadHookDocs_MalformedJSONReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	docs := loadHookDocs(path)
	assert.Nil(t, docs, "a broken hooks.json must not block dispatch")
}

func TestLoadHookDocs_ValidFileReturnsOneDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"node":{"index":{"prefix":"https://example.test/"}}}`), 0o644))

	docs := loadHookDocs(path)
	require.Len(t, docs, 1)
	assert.NotNil(t, docs[0].Node)
}
