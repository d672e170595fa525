// Package npmlike implements registry.Client against the npm registry
// metadata document shape, shared by npm, pnpm, and arbitrary package
// installs (all three publish to and read from an npm-compatible
// registry). Grounded on the same cache-first fetch discipline as
// internal/registry/node, generalized from the Node dist index to npm's
// dist-tags/versions document.
package npmlike

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/checksum"
	"github.com/turnstile-dev/turnstile/internal/fetch"
	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/registry/hooks"
	"github.com/turnstile-dev/turnstile/internal/terrors"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

const defaultRegistryBase = "https://registry.npmjs.org"

// indexTTL bounds how long a cached registry metadata document is
// served without revalidation, per spec.md §4.4's Duration-gated cache
// policy.
const indexTTL = 4 * time.Hour

type dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum"`
	Integrity string `json:"integrity"`
}

type versionDoc struct {
	Dist dist `json:"dist"`
}

type packageDoc struct {
	DistTags map[string]string     `json:"dist-tags"`
	Versions map[string]versionDoc `json:"versions"`
}

// Hook is the hooks.Tool this client's caller passes: npm and pnpm each
// have their own hook slot, and arbitrary packages use the npm slot.
type Hook = hooks.Tool

// Client resolves one package name against an npm-shaped registry.
type Client struct {
	fetcher      *fetch.Fetcher
	hooks        *hooks.Resolver
	hookTool     hooks.Tool
	registryBase string
	packageName  string
}

// New builds a Client for packageName (e.g. "npm", "pnpm", or an
// arbitrary package like "typescript"). hookTool selects which hooks.json
// slot (npm/pnpm/npm-for-packages) applies; hookResolver may be nil.
func New(fetcher *fetch.Fetcher, hookResolver *hooks.Resolver, hookTool hooks.Tool, packageName string) *Client {
	return &Client{
		fetcher:      fetcher,
		hooks:        hookResolver,
		hookTool:     hookTool,
		registryBase: defaultRegistryBase,
		packageName:  packageName,
	}
}

// WithRegistryBase overrides the registry host, for private registries
// and tests.
func (c *Client) WithRegistryBase(base string) *Client {
	c.registryBase = base
	return c
}

func (c *Client) indexURL() string {
	return c.registryBase + "/" + c.packageName
}

func (c *Client) fetchDoc(ctx context.Context) (*packageDoc, error) {
	url := c.indexURL()
	if c.hooks != nil {
		rewritten, err := c.hooks.Apply(ctx, c.hookTool, hooks.SlotIndex, url, hooks.Vars{})
		if err != nil {
			return nil, err
		}
		url = rewritten
	}

	body, err := c.fetcher.Fetch(ctx, url, fetch.UseIfFreshFor, indexTTL, nil)
	if err != nil {
		return nil, terrors.Wrap(terrors.CategoryRegistry, terrors.CodeRegistryFetchFailed, "fetching npm registry metadata for "+c.packageName, err)
	}
	defer body.Close()

	var doc packageDoc
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return nil, terrors.Wrap(terrors.CategoryRegistry, terrors.CodeInvalidIndex, "parsing npm registry metadata for "+c.packageName, err)
	}
	return &doc, nil
}

func sortedVersions(doc *packageDoc) []*semver.Version {
	out := make([]*semver.Version, 0, len(doc.Versions))
	for raw := range doc.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GreaterThan(out[j]) })
	return out
}

// Resolve implements versionspec.Resolver.
func (c *Client) Resolve(ctx context.Context, constraints *semver.Constraints) (*semver.Version, error) {
	doc, err := c.fetchDoc(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range sortedVersions(doc) {
		if constraints.Check(v) {
			return v, nil
		}
	}
	return nil, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "no version of "+c.packageName+" satisfies "+constraints.String())
}

// Tag implements versionspec.Resolver; npm-family registries key dist-tags
// directly by name ("latest", "next", or any publisher-defined tag).
func (c *Client) Tag(ctx context.Context, tag string) (*semver.Version, error) {
	doc, err := c.fetchDoc(ctx)
	if err != nil {
		return nil, err
	}
	raw, ok := doc.DistTags[tag]
	if !ok {
		return nil, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "no dist-tag "+tag+" for "+c.packageName)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, terrors.Wrap(terrors.CategoryRegistry, terrors.CodeInvalidIndex, "parsing dist-tag version", err)
	}
	return v, nil
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
	doc, err := c.fetchDoc(ctx)
	if err != nil {
		return registry.Version{}, err
	}
	entry, ok := doc.Versions[v.Original()]
	if !ok {
		entry, ok = doc.Versions[v.String()]
	}
	if !ok {
		return registry.Version{}, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "version "+v.String()+" missing from registry metadata for "+c.packageName)
	}

	result := registry.Version{Num: v, ArchiveURL: entry.Dist.Tarball}
	if entry.Dist.Integrity != "" {
		if integrity, err := checksum.ParseSRI(entry.Dist.Integrity); err == nil {
			result.Integrity = integrity
		}
	} else if entry.Dist.Shasum != "" {
		if integrity, err := checksum.ParseShasum(entry.Dist.Shasum); err == nil {
			result.Integrity = integrity
		}
	}
	return result, nil
}

// Latest returns the version named by the "latest" dist-tag.
func (c *Client) Latest(ctx context.Context) (registry.Version, error) {
	v, err := c.Tag(ctx, "latest")
	if err != nil {
		return registry.Version{}, err
	}
	return c.versionFor(ctx, v)
}

// ArchiveURL returns entry.Dist.Tarball, rewritten by the hooks "distro"
// slot if configured. v.ArchiveURL is already populated by ResolveSpec/
// Latest; this method exists to satisfy registry.Client uniformly and to
// let callers re-derive the URL from a bare Version (e.g. one constructed
// from a pinned manifest entry without an index round trip).
func (c *Client) ArchiveURL(ctx context.Context, v registry.Version) (string, error) {
	url := v.ArchiveURL
	if url == "" {
		resolved, err := c.versionFor(ctx, v.Num)
		if err != nil {
			return "", err
		}
		url = resolved.ArchiveURL
	}
	if c.hooks == nil {
		return url, nil
	}
	return c.hooks.Apply(ctx, c.hookTool, hooks.SlotDistro, url, hooks.Vars{Version: v.Num.String()})
}
