package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRoundTripper struct {
	handler func(*http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.handler(req)
}

func mockClient(handler func(*http.Request) (*http.Response, error)) *http.Client {
	return &http.Client{Transport: &mockRoundTripper{handler: handler}}
}

func newResponse(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestFetch_CacheMiss_WritesCache(t *testing.T) {
	calls := 0
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		calls++
		return newResponse(http.StatusOK, "hello", map[string]string{"ETag": `"abc"`}), nil
	})

	f := New(t.TempDir(), client)
	r, err := f.Fetch(context.Background(), "https://example.com/a", AlwaysRefetch, 0, nil)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, 1, calls)
}

func TestFetch_ConditionalGet_304ServesCache(t *testing.T) {
	cacheDir := t.TempDir()
	firstCall := true
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		if firstCall {
			firstCall = false
			return newResponse(http.StatusOK, "original", map[string]string{"ETag": `"v1"`}), nil
		}
		assert.Equal(t, `"v1"`, req.Header.Get("If-None-Match"))
		return newResponse(http.StatusNotModified, "", nil), nil
	})

	f := New(cacheDir, client)
	ctx := context.Background()

	r1, err := f.Fetch(ctx, "https://example.com/a", AlwaysRefetch, 0, nil)
	require.NoError(t, err)
	data1, _ := io.ReadAll(r1)
	r1.Close()
	assert.Equal(t, "original", string(data1))

	r2, err := f.Fetch(ctx, "https://example.com/a", AlwaysRefetch, 0, nil)
	require.NoError(t, err)
	defer r2.Close()
	data2, err := io.ReadAll(r2)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data2), "304 must serve the cached body")
}

func TestFetch_UseAlways_SkipsNetworkEntirely(t *testing.T) {
	cacheDir := t.TempDir()
	httpCalled := false
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		httpCalled = true
		return newResponse(http.StatusOK, "fresh", nil), nil
	})

	f := New(cacheDir, client)
	_, err := f.Fetch(context.Background(), "https://example.com/a", AlwaysRefetch, 0, nil)
	require.NoError(t, err)
	httpCalled = false

	r, err := f.Fetch(context.Background(), "https://example.com/a", UseAlways, 0, nil)
	require.NoError(t, err)
	defer r.Close()
	data, _ := io.ReadAll(r)
	assert.Equal(t, "fresh", string(data))
	assert.False(t, httpCalled, "UseAlways must not touch the network once cached")
}

func TestFetch_UseIfFreshFor_SkipsNetworkWhileFresh(t *testing.T) {
	cacheDir := t.TempDir()
	httpCalled := false
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		httpCalled = true
		return newResponse(http.StatusOK, "index-body", map[string]string{"ETag": `"v1"`}), nil
	})

	f := New(cacheDir, client)
	ctx := context.Background()
	_, err := f.Fetch(ctx, "https://example.com/index", AlwaysRefetch, 0, nil)
	require.NoError(t, err)
	httpCalled = false

	r, err := f.Fetch(ctx, "https://example.com/index", UseIfFreshFor, time.Hour, nil)
	require.NoError(t, err)
	defer r.Close()
	data, _ := io.ReadAll(r)
	assert.Equal(t, "index-body", string(data))
	assert.False(t, httpCalled, "a cache entry younger than freshFor must not hit the network")
}

func TestFetch_UseIfFreshFor_RevalidatesWhenStale(t *testing.T) {
	cacheDir := t.TempDir()
	calls := 0
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		calls++
		assert.Equal(t, `"v1"`, req.Header.Get("If-None-Match"), "a stale entry must be revalidated, not refetched blind")
		return newResponse(http.StatusNotModified, "", nil), nil
	})

	f := New(cacheDir, client)
	ctx := context.Background()

	key := f.cacheKey("https://example.com/index")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	require.NoError(t, os.WriteFile(f.bodyPath(key), []byte("stale-body"), 0o644))
	staleMeta := cacheMeta{ETag: `"v1"`, FetchedAt: time.Now().Add(-48 * time.Hour)}
	metaBytes, err := json.Marshal(staleMeta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.metaPath(key), metaBytes, 0o644))

	r, err := f.Fetch(ctx, "https://example.com/index", UseIfFreshFor, time.Hour, nil)
	require.NoError(t, err)
	defer r.Close()
	data, _ := io.ReadAll(r)
	assert.Equal(t, "stale-body", string(data), "a 304 on revalidation must still serve the cached body")
	assert.Equal(t, 1, calls, "a stale entry must trigger exactly one conditional request")
}

func TestFetch_NetworkFailureFallsBackToCache(t *testing.T) {
	cacheDir := t.TempDir()
	first := true
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		if first {
			first = false
			return newResponse(http.StatusOK, "cached-body", nil), nil
		}
		return nil, assert.AnError
	})

	f := New(cacheDir, client)
	ctx := context.Background()
	r1, err := f.Fetch(ctx, "https://example.com/a", AlwaysRefetch, 0, nil)
	require.NoError(t, err)
	io.ReadAll(r1)
	r1.Close()

	r2, err := f.Fetch(ctx, "https://example.com/a", AlwaysRefetch, 0, nil)
	require.NoError(t, err, "a transport failure with a warm cache should fall back, not error")
	defer r2.Close()
	data, _ := io.ReadAll(r2)
	assert.Equal(t, "cached-body", string(data))
}

func TestFetch_HTTPError(t *testing.T) {
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusNotFound, "", nil), nil
	})

	f := New(t.TempDir(), client)
	_, err := f.Fetch(context.Background(), "https://example.com/missing", AlwaysRefetch, 0, nil)
	require.Error(t, err)
}

func TestFetch_ProgressCallback(t *testing.T) {
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, "0123456789", nil), nil
	})

	f := New(t.TempDir(), client)
	var lastRead int64
	calls := 0
	progress := func(read, total int64) {
		calls++
		lastRead = read
	}

	r, err := f.Fetch(context.Background(), "https://example.com/a", AlwaysRefetch, 0, progress)
	require.NoError(t, err)
	defer r.Close()
	io.ReadAll(r)

	assert.Greater(t, calls, 0)
	assert.Equal(t, int64(10), lastRead)
}

func TestPruneCache_RemovesOldEntries(t *testing.T) {
	cacheDir := t.TempDir()
	client := mockClient(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, "body", nil), nil
	})

	f := New(cacheDir, client)
	r, err := f.Fetch(context.Background(), "https://example.com/a", AlwaysRefetch, 0, nil)
	require.NoError(t, err)
	r.Close()

	key := f.cacheKey("https://example.com/a")
	meta, ok := f.readMeta(key)
	require.True(t, ok)
	meta.FetchedAt = time.Now().Add(-48 * time.Hour)
	metaBytes, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.metaPath(key), metaBytes, 0o644))

	require.NoError(t, f.PruneCache(24*time.Hour))

	_, err = os.Stat(filepath.Join(cacheDir, key+".json"))
	assert.True(t, os.IsNotExist(err), "stale metadata should be pruned")
	_, err = os.Stat(filepath.Join(cacheDir, key+".body"))
	assert.True(t, os.IsNotExist(err), "stale body should be pruned")
}
