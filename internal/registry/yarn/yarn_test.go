package yarn

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/fetch"
	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

const sampleJSONDoc = `{
  "dist-tags": {"latest": "1.22.19"},
  "versions": {
    "1.22.19": {"dist": {"tarball": "https://registry.yarnpkg.com/yarn/-/yarn-1.22.19.tgz", "shasum": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}},
    "1.22.4":  {"dist": {"tarball": "https://registry.yarnpkg.com/yarn/-/yarn-1.22.4.tgz", "shasum": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}}
  }
}`

const sampleHTMLListing = `<html><body>
<a href="/yarnpkg/yarn/releases/tag/v1.22.19">v1.22.19</a>
<a href="/yarnpkg/yarn/releases/tag/v1.21.1">v1.21.1</a>
</body></html>`

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(body)), Header: make(http.Header)}
}

// newClient builds a yarn.Client whose JSON and HTML round trips are
// distinguished by whether the request URL contains "releases" (the
// HTML listing path), so a test can make either channel fail.
func newClient(t *testing.T, jsonStatus int, jsonBody string, htmlStatus int, htmlBody string) *Client {
	t.Helper()
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.String(), "releases") {
			return respond(htmlStatus, htmlBody), nil
		}
		return respond(jsonStatus, jsonBody), nil
	})}
	f := fetch.New(t.TempDir(), httpClient)
	return New(f, nil)
}

func TestResolve_PrefersJSONIndex(t *testing.T) {
	c := newClient(t, http.StatusOK, sampleJSONDoc, http.StatusInternalServerError, "")
	spec, err := versionspec.Parse("1.22.19")
	require.NoError(t, err)

	v, err := c.ResolveSpec(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "1.22.19", v.Num.String())
	assert.Equal(t, "https://registry.yarnpkg.com/yarn/-/yarn-1.22.19.tgz", v.ArchiveURL)
}

func TestResolve_FallsBackToHTMLWhenJSONFails(t *testing.T) {
	c := newClient(t, http.StatusInternalServerError, "", http.StatusOK, sampleHTMLListing)
	spec, err := versionspec.Parse("1.22.19")
	require.NoError(t, err)

	v, err := c.ResolveSpec(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "1.22.19", v.Num.String())
	assert.Contains(t, v.ArchiveURL, "yarn-v1.22.19.tar.gz")
}

func TestLatest_UsesJSONDistTag(t *testing.T) {
	c := newClient(t, http.StatusOK, sampleJSONDoc, http.StatusInternalServerError, "")
	v, err := c.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.22.19", v.Num.String())
}

func TestLatest_FallsBackToNewestHTMLRelease(t *testing.T) {
	c := newClient(t, http.StatusInternalServerError, "", http.StatusOK, sampleHTMLListing)
	v, err := c.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.22.19", v.Num.String(), "newest tag in the listing should win")
}

func TestTag_UnknownWithBothChannelsFailingErrors(t *testing.T) {
	c := newClient(t, http.StatusInternalServerError, "", http.StatusInternalServerError, "")
	_, err := c.Tag(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestFetchHTMLVersions_NoMatchesErrors(t *testing.T) {
	c := newClient(t, http.StatusInternalServerError, "", http.StatusOK, "<html><body>nothing here</body></html>")
	_, err := c.fetchHTMLVersions(context.Background())
	assert.Error(t, err)
}

func TestArchiveURL_ReusesAlreadyPopulatedURL(t *testing.T) {
	c := newClient(t, http.StatusInternalServerError, "", http.StatusInternalServerError, "")
	rv := registry.Version{Num: semver.MustParse("1.22.19"), ArchiveURL: "https://mirror.test/yarn-1.22.19.tgz"}

	url, err := c.ArchiveURL(context.Background(), rv)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.test/yarn-1.22.19.tgz", url)
}
