// Package yarn resolves Yarn (classic, 1.x) releases. It tries the
// npm-registry-shaped JSON document first (registry.yarnpkg.com mirrors
// npm's dist-tags/versions shape) and falls back to scraping a GitHub
// Releases-style HTML directory listing when the JSON sibling is
// unavailable, matching the two real distribution channels Yarn has
// used historically.
package yarn

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/fetch"
	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/registry/hooks"
	"github.com/turnstile-dev/turnstile/internal/registry/npmlike"
	"github.com/turnstile-dev/turnstile/internal/terrors"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

const (
	defaultJSONBase = "https://registry.yarnpkg.com"
	defaultHTMLURL  = "https://github.com/yarnpkg/yarn/releases"

	// indexTTL bounds how long a cached releases listing is served
	// without revalidation, per spec.md §4.4's Duration-gated cache
	// policy.
	indexTTL = 4 * time.Hour
)

// releaseLinkPattern extracts version tags from a GitHub releases
// listing's anchor hrefs, e.g. ".../releases/tag/v1.22.19".
var releaseLinkPattern = regexp.MustCompile(`/releases/tag/v([0-9][0-9A-Za-z.\-+]*)"`)

// Client tries the JSON form first, then falls back to HTML scraping.
type Client struct {
	fetcher   *fetch.Fetcher
	hooks     *hooks.Resolver
	htmlURL   string
	npmlike   *npmlike.Client
	jsonFirst bool
}

// New builds a Client.
func New(fetcher *fetch.Fetcher, hookResolver *hooks.Resolver) *Client {
	return &Client{
		fetcher:   fetcher,
		hooks:     hookResolver,
		htmlURL:   defaultHTMLURL,
		npmlike:   npmlike.New(fetcher, hookResolver, hooks.ToolYarn, "yarn").WithRegistryBase(defaultJSONBase),
		jsonFirst: true,
	}
}

// WithHTMLURL overrides the releases-listing URL, for tests.
func (c *Client) WithHTMLURL(url string) *Client {
	c.htmlURL = url
	return c
}

// WithJSONRegistryBase overrides the npm-shaped registry host, for tests.
func (c *Client) WithJSONRegistryBase(base string) *Client {
	c.npmlike = c.npmlike.WithRegistryBase(base)
	return c
}

func (c *Client) fetchHTMLVersions(ctx context.Context) ([]*semver.Version, error) {
	url := c.htmlURL
	if c.hooks != nil {
		rewritten, err := c.hooks.Apply(ctx, hooks.ToolYarn, hooks.SlotIndex, url, hooks.Vars{})
		if err != nil {
			return nil, err
		}
		url = rewritten
	}

	body, err := c.fetcher.Fetch(ctx, url, fetch.UseIfFreshFor, indexTTL, nil)
	if err != nil {
		return nil, terrors.Wrap(terrors.CategoryRegistry, terrors.CodeRegistryFetchFailed, "fetching yarn releases page", err)
	}
	defer body.Close()

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 4096)
	for {
		n, readErr := body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if readErr != nil {
			break
		}
	}

	matches := releaseLinkPattern.FindAllSubmatch(buf, -1)
	seen := map[string]bool{}
	var out []*semver.Version
	for _, m := range matches {
		tag := string(m[1])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		v, err := semver.NewVersion(tag)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, terrors.New(terrors.CategoryRegistry, terrors.CodeInvalidIndex, "no yarn releases found in HTML listing")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GreaterThan(out[j]) })
	return out, nil
}

// Resolve implements versionspec.Resolver, preferring the JSON index and
// falling back to the HTML listing on any fetch/parse failure.
func (c *Client) Resolve(ctx context.Context, constraints *semver.Constraints) (*semver.Version, error) {
	if v, err := c.npmlike.Resolve(ctx, constraints); err == nil {
		return v, nil
	}
	versions, err := c.fetchHTMLVersions(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if constraints.Check(v) {
			return v, nil
		}
	}
	return nil, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "no yarn version satisfies "+constraints.String())
}

// Tag implements versionspec.Resolver.
func (c *Client) Tag(ctx context.Context, tag string) (*semver.Version, error) {
	if v, err := c.npmlike.Tag(ctx, tag); err == nil {
		return v, nil
	}
	if tag != "latest" {
		return nil, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "unknown yarn tag "+tag)
	}
	versions, err := c.fetchHTMLVersions(ctx)
	if err != nil {
		return nil, err
	}
	return versions[0], nil
}

// ResolveSpec implements registry.Client.
func (c *Client) ResolveSpec(ctx context.Context, spec versionspec.VersionSpec) (registry.Version, error) {
	v, err := spec.Resolve(ctx, c)
	if err != nil {
		return registry.Version{}, err
	}
	return c.versionFor(ctx, v)
}

func (c *Client) versionFor(ctx context.Context, v *semver.Version) (registry.Version, error) {
	npmSpec := versionspec.VersionSpec{Kind: versionspec.KindExact, Exact: v}
	if rv, err := c.npmlike.ResolveSpec(ctx, npmSpec); err == nil {
		return rv, nil
	}
	archiveURL, err := c.archiveURLFromHTML(ctx, v)
	if err != nil {
		return registry.Version{}, err
	}
	return registry.Version{Num: v, ArchiveURL: archiveURL}, nil
}

func (c *Client) archiveURLFromHTML(ctx context.Context, v *semver.Version) (string, error) {
	defaultURL := "https://github.com/yarnpkg/yarn/releases/download/v" + v.String() + "/yarn-v" + v.String() + ".tar.gz"
	if c.hooks == nil {
		return defaultURL, nil
	}
	return c.hooks.Apply(ctx, hooks.ToolYarn, hooks.SlotDistro, defaultURL, hooks.Vars{Version: "v" + v.String()})
}

// Latest returns the npm-index "latest" dist-tag, falling back to the
// newest tag in the HTML listing.
func (c *Client) Latest(ctx context.Context) (registry.Version, error) {
	v, err := c.Tag(ctx, "latest")
	if err != nil {
		return registry.Version{}, err
	}
	return c.versionFor(ctx, v)
}

// ArchiveURL returns v.ArchiveURL if already populated, else re-derives
// it through whichever channel produced v.
func (c *Client) ArchiveURL(ctx context.Context, v registry.Version) (string, error) {
	if v.ArchiveURL != "" {
		return v.ArchiveURL, nil
	}
	resolved, err := c.versionFor(ctx, v.Num)
	if err != nil {
		return "", err
	}
	return resolved.ArchiveURL, nil
}
