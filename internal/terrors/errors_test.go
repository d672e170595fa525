package terrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "no cause",
			err:  New(CategoryInput, CodeInvalidManifest, "bad manifest"),
			want: "bad manifest",
		},
		{
			name: "with cause",
			err:  Wrap(CategoryNetwork, CodeNetworkFailed, "fetch failed", errors.New("connection reset")),
			want: "fetch failed: connection reset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Is(t *testing.T) {
	a := New(CategoryState, CodeLockContention, "locked")
	b := New(CategoryState, CodeLockContention, "different message")
	c := New(CategoryState, CodeStateCorrupt, "locked")

	assert.True(t, errors.Is(a, b), "errors with the same code should match regardless of message")
	assert.False(t, errors.Is(a, c), "errors with different codes should not match")
}

func TestChecksumError_Unwraps(t *testing.T) {
	err := NewChecksumError("node", "https://example.invalid/node.tar.gz", "sha512-abc", "sha512-def")

	var target *ChecksumError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "node", target.Tool)
	assert.Equal(t, CodeIntegrityFailed, target.Base.Code)
	assert.Contains(t, target.Base.Hint, "node")
}

func TestNewLockError_Fields(t *testing.T) {
	err := NewLockError("/home/user/.turnstile/turnstile.lock", 4242)

	assert.Equal(t, 4242, err.LockPID)
	assert.Equal(t, CodeLockContention, err.Base.Code)
	assert.Contains(t, err.Base.Hint, "4242")
}

func TestIsBug(t *testing.T) {
	bug := New(CategoryBug, CodeBug, "unreachable branch hit")
	notBug := New(CategoryInput, CodeInvalidVersionSpec, "bad spec")

	assert.True(t, IsBug(bug))
	assert.False(t, IsBug(notBug))
	assert.False(t, IsBug(errors.New("plain error")))
}
