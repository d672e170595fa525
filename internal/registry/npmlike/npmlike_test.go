package npmlike

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnstile-dev/turnstile/internal/fetch"
	"github.com/turnstile-dev/turnstile/internal/registry/hooks"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

const sampleDoc = `{
  "dist-tags": {"latest": "10.2.4", "next": "10.3.0-rc.1"},
  "versions": {
    "10.2.4": {"dist": {"tarball": "https://registry.npmjs.org/npm/-/npm-10.2.4.tgz", "shasum": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}},
    "10.1.0": {"dist": {"tarball": "https://registry.npmjs.org/npm/-/npm-10.1.0.tgz", "integrity": "sha512-dGhpcyBpcyBub3QgYSByZWFsIGhhc2ggYnV0IHBhcnNlcyBhcyBiYXNlNjQ="}}
  }
}`

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testClient(t *testing.T, body string) *Client {
	t.Helper()
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString(body)), Header: make(http.Header)}, nil
	})}
	f := fetch.New(t.TempDir(), client)
	return New(f, nil, hooks.ToolNpm, "npm")
}

func TestClient_Latest_UsesDistTag(t *testing.T) {
	c := testClient(t, sampleDoc)
	v, err := c.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.2.4", v.Num.String())
	assert.Equal(t, "https://registry.npmjs.org/npm/-/npm-10.2.4.tgz", v.ArchiveURL)
}

func TestClient_ResolveSpec_ExactVersion(t *testing.T) {
	c := testClient(t, sampleDoc)
	spec, err := versionspec.Parse("10.1.0")
	require.NoError(t, err)

	v, err := c.ResolveSpec(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0", v.Num.String())
	assert.NotEmpty(t, v.Integrity.Digest, "integrity should be parsed from dist.integrity when present")
}

func TestClient_ResolveSpec_FallsBackToShasum(t *testing.T) {
	c := testClient(t, sampleDoc)
	spec, err := versionspec.Parse("10.2.4")
	require.NoError(t, err)

	v, err := c.ResolveSpec(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEmpty(t, v.Integrity.Digest, "shasum fallback should still populate Integrity")
}

func TestClient_Resolve_UnknownTagErrors(t *testing.T) {
	c := testClient(t, sampleDoc)
	_, err := c.Tag(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestClient_ArchiveURL_HookRewritesTarball(t *testing.T) {
	doc := &hooks.Document{Npm: &hooks.ToolHooks{Distro: &hooks.Hook{Prefix: "https://mirror.internal/npm"}}}
	c := testClient(t, sampleDoc)
	c.hooks = hooks.NewResolver(doc)

	spec, _ := versionspec.Parse("10.2.4")
	v, err := c.ResolveSpec(context.Background(), spec)
	require.NoError(t, err)

	url, err := c.ArchiveURL(context.Background(), v)
	require.NoError(t, err)
	assert.Contains(t, url, "mirror.internal")
}
