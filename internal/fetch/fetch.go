// Package fetch is the one place turnstile makes HTTP requests: for
// registry index documents and for tool archives. It caches bodies on
// disk keyed by URL, supports conditional GETs, and reports download
// progress through a callback so cmd/turnstile can render it without
// this package knowing anything about terminals.
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/turnstile-dev/turnstile/internal/fsutil"
	"github.com/turnstile-dev/turnstile/internal/terrors"
)

// CachePolicy controls whether a cached body may be served without
// revalidation.
type CachePolicy int

const (
	// AlwaysRefetch issues a conditional GET (If-None-Match/
	// If-Modified-Since) every time; a 304 still serves the cache.
	AlwaysRefetch CachePolicy = iota
	// UseIfFreshFor serves the cache without any network round trip
	// while it is younger than the given duration.
	UseIfFreshFor
	// UseAlways serves the cache unconditionally if present.
	UseAlways
)

// ProgressFunc is called with bytes-read-so-far and total size (-1 if
// unknown) as a download streams.
type ProgressFunc func(read, total int64)

// Fetcher issues cached, conditional HTTP GETs.
type Fetcher struct {
	cacheDir string
	client   *http.Client
}

func New(cacheDir string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second, Transport: &http.Transport{Proxy: http.ProxyFromEnvironment}}
	}
	return &Fetcher{cacheDir: cacheDir, client: client}
}

type cacheMeta struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

func (f *Fetcher) cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (f *Fetcher) metaPath(key string) string { return filepath.Join(f.cacheDir, key+".json") }
func (f *Fetcher) bodyPath(key string) string { return filepath.Join(f.cacheDir, key+".body") }

// Fetch retrieves url, consulting and updating the on-disk cache
// according to policy, and reports progress via progress (may be nil).
// freshFor is only consulted when policy is UseIfFreshFor: the cache is
// served without a network round trip while cacheMeta.FetchedAt is
// within freshFor of now, otherwise Fetch falls through to a
// conditional GET like AlwaysRefetch.
func (f *Fetcher) Fetch(ctx context.Context, url string, policy CachePolicy, freshFor time.Duration, progress ProgressFunc) (io.ReadCloser, error) {
	key := f.cacheKey(url)
	meta, hasCache := f.readMeta(key)

	if hasCache && policy == UseAlways {
		if body, err := os.Open(f.bodyPath(key)); err == nil {
			return body, nil
		}
	}
	if hasCache && policy == UseIfFreshFor && time.Since(meta.FetchedAt) < freshFor {
		if body, err := os.Open(f.bodyPath(key)); err == nil {
			return body, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, terrors.NewNetworkError(url, err)
	}
	if hasCache {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if hasCache {
			if body, openErr := os.Open(f.bodyPath(key)); openErr == nil {
				slog.Warn("network request failed; serving cached copy", "url", url, "err", err)
				return body, nil
			}
		}
		return nil, terrors.NewNetworkError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		body, err := os.Open(f.bodyPath(key))
		if err != nil {
			return nil, terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "cached body missing after 304", err)
		}
		return body, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, terrors.NewHTTPError(url, resp.StatusCode)
	}

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return nil, terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "creating cache dir", err)
	}

	var reader io.Reader = resp.Body
	if progress != nil {
		reader = &progressReader{r: resp.Body, total: resp.ContentLength, onRead: progress}
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, terrors.NewNetworkError(url, err)
	}
	if err := fsutil.WriteFileAtomic(f.bodyPath(key), data, 0o644); err != nil {
		return nil, err
	}
	newMeta := cacheMeta{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    time.Now(),
	}
	metaBytes, _ := json.Marshal(newMeta)
	_ = fsutil.WriteFileAtomic(f.metaPath(key), metaBytes, 0o644)

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Fetcher) readMeta(key string) (cacheMeta, bool) {
	data, err := os.ReadFile(f.metaPath(key))
	if err != nil {
		return cacheMeta{}, false
	}
	var m cacheMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return cacheMeta{}, false
	}
	return m, true
}

// PruneCache removes cached entries whose metadata is older than
// maxAge. Not wired to any command surface; exercised directly by
// tests and available for a future maintenance command.
func (f *Fetcher) PruneCache(maxAge time.Duration) error {
	entries, err := os.ReadDir(f.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		key := e.Name()[:len(e.Name())-len(".json")]
		meta, ok := f.readMeta(key)
		if !ok || meta.FetchedAt.Before(cutoff) {
			_ = os.Remove(f.metaPath(key))
			_ = os.Remove(f.bodyPath(key))
		}
	}
	return nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	onRead ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if n > 0 {
		p.onRead(p.read, p.total)
	}
	return n, err
}
