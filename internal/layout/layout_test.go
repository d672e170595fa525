package layout

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WithHome(t *testing.T) {
	l, err := New(WithHome("/tmp/turnstile-test-home"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/turnstile-test-home", l.Home())
}

func TestNew_FromEnv(t *testing.T) {
	t.Setenv("TURNSTILE_HOME", "/tmp/turnstile-env-home")
	l, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/turnstile-env-home", l.Home())
}

func TestLayout_PathBuilders(t *testing.T) {
	l, err := New(WithHome("/home/u/.turnstile"))
	require.NoError(t, err)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"image dir", l.ImageDir("node", "20.11.0"), "/home/u/.turnstile/image/node/20.11.0"},
		{"archive path", l.ArchivePath("node", "20.11.0", ".tar.gz"), "/home/u/.turnstile/archive/node/20.11.0.tar.gz"},
		{"bin dir", l.BinDir(), "/home/u/.turnstile/bin"},
		{"user platform file", l.UserPlatformFile(), "/home/u/.turnstile/tools/user/platform.json"},
		{"user package file", l.UserPackageFile("typescript"), "/home/u/.turnstile/tools/user/packages/typescript.json"},
		{"lock file", l.LockFile(), "/home/u/.turnstile/turnstile.lock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.want), tt.got)
		})
	}
}

func TestExpand(t *testing.T) {
	home := mustHome(t)

	assert.Equal(t, home, Expand("~"))
	assert.Equal(t, filepath.Join(home, "projects"), Expand("~/projects"))
	assert.Equal(t, "/already/absolute", Expand("/already/absolute"))
}

func mustHome(t *testing.T) string {
	t.Helper()
	l, err := New()
	require.NoError(t, err)
	_ = l
	home := Expand("~")
	require.NotEmpty(t, home)
	return home
}
