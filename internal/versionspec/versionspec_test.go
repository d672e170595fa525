package versionspec

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		wantKnd Kind
	}{
		{"bare major", "20", false, KindSemver},
		{"bare major.minor", "18.17", false, KindSemver},
		{"exact with patch", "20.11.0", false, KindExact},
		{"leading v stripped", "v20.11.0", false, KindExact},
		{"latest tag", "latest", false, KindTag},
		{"lts tag", "lts", false, KindTag},
		{"caret range", "^18.0.0", false, KindSemver},
		{"tilde range", "~18.0.0", false, KindSemver},
		{"or range", "18.0.0 || 20.0.0", false, KindSemver},
		{"empty", "", true, KindNone},
		{"garbage", "not-a-version-$$", true, KindNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKnd, got.Kind)
		})
	}
}

type stubResolver struct {
	latest *semver.Version
	lts    *semver.Version
}

func (s stubResolver) Resolve(_ context.Context, c *semver.Constraints) (*semver.Version, error) {
	return s.latest, nil
}

func (s stubResolver) Tag(_ context.Context, tag string) (*semver.Version, error) {
	if tag == "lts" {
		return s.lts, nil
	}
	return s.latest, nil
}

func TestResolve_ExactNeverCallsResolver(t *testing.T) {
	spec, err := Parse("20.11.0")
	require.NoError(t, err)

	resolver := stubResolver{latest: semver.MustParse("99.0.0")}
	got, err := spec.Resolve(context.Background(), resolver)
	require.NoError(t, err)
	assert.Equal(t, "20.11.0", got.String())
}

func TestResolve_TagDefersToResolver(t *testing.T) {
	spec, err := Parse("lts")
	require.NoError(t, err)

	resolver := stubResolver{lts: semver.MustParse("18.20.4")}
	got, err := spec.Resolve(context.Background(), resolver)
	require.NoError(t, err)
	assert.Equal(t, "18.20.4", got.String())
}

// Every value produced by Parse for a random exact "MAJOR.MINOR.PATCH"
// string round-trips through Resolve without consulting the resolver.
func TestParseResolve_ExactRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		major := rapid.IntRange(0, 999).Draw(rt, "major")
		minor := rapid.IntRange(0, 999).Draw(rt, "minor")
		patch := rapid.IntRange(0, 999).Draw(rt, "patch")

		raw := rapid.SampledFrom([]string{"", "v"}).Draw(rt, "prefix") +
			itoa(major) + "." + itoa(minor) + "." + itoa(patch)

		spec, err := Parse(raw)
		require.NoError(rt, err)
		require.Equal(rt, KindExact, spec.Kind)

		got, err := spec.Resolve(context.Background(), stubResolver{})
		require.NoError(rt, err)
		assert.Equal(rt, major, int(got.Major()))
		assert.Equal(rt, minor, int(got.Minor()))
		assert.Equal(rt, patch, int(got.Patch()))
	})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
