// Package node resolves Node.js versions against the official
// distribution index (https://nodejs.org/dist/index.json), grounded on
// the same fetch-then-parse-then-pick-highest-match shape as
// internal/registry/aqua's resolver, generalized from per-package YAML
// to the flat Node index JSON array.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/fetch"
	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/registry/hooks"
	"github.com/turnstile-dev/turnstile/internal/terrors"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

const defaultIndexURL = "https://nodejs.org/dist/index.json"

// indexTTL bounds how long a cached dist index is served without
// revalidation, per spec.md §4.4's Duration-gated cache policy.
const indexTTL = 4 * time.Hour

// entry is one row of the Node distribution index.
type entry struct {
	Version string   `json:"version"`
	Date    string   `json:"date"`
	Files   []string `json:"files"`
	LTS     any      `json:"lts"` // false or a codename string
}

func (e entry) semver() (*semver.Version, error) {
	return semver.NewVersion(strings.TrimPrefix(e.Version, "v"))
}

func (e entry) ltsName() (string, bool) {
	name, ok := e.LTS.(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Client resolves Node versions and archive URLs against the dist index.
type Client struct {
	fetcher  *fetch.Fetcher
	hooks    *hooks.Resolver
	indexURL string
	goos     string
	goarch   string
}

// New builds a Client. hookResolver may be nil (no hooks.json overrides).
func New(fetcher *fetch.Fetcher, hookResolver *hooks.Resolver) *Client {
	return &Client{
		fetcher:  fetcher,
		hooks:    hookResolver,
		indexURL: defaultIndexURL,
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
	}
}

// WithPlatform overrides the (GOOS, GOARCH) used to match index "files"
// entries; used by tests to exercise platforms other than the host.
func (c *Client) WithPlatform(goos, goarch string) *Client {
	c.goos = goos
	c.goarch = goarch
	return c
}

func (c *Client) fetchIndex(ctx context.Context) ([]entry, error) {
	url := c.indexURL
	if c.hooks != nil {
		rewritten, err := c.hooks.Apply(ctx, hooks.ToolNode, hooks.SlotIndex, url, hooks.Vars{})
		if err != nil {
			return nil, err
		}
		url = rewritten
	}

	body, err := c.fetcher.Fetch(ctx, url, fetch.UseIfFreshFor, indexTTL, nil)
	if err != nil {
		return nil, terrors.Wrap(terrors.CategoryRegistry, terrors.CodeRegistryFetchFailed, "fetching node index", err)
	}
	defer body.Close()

	var entries []entry
	if err := json.NewDecoder(body).Decode(&entries); err != nil {
		return nil, terrors.Wrap(terrors.CategoryRegistry, terrors.CodeInvalidIndex, "parsing node index", err)
	}
	return entries, nil
}

// fileTag is the platform tag an index "files" entry carries, e.g.
// "linux-x64", "osx-arm64-tar", "win-x64-zip". We match by prefix so the
// archive-format suffix doesn't need to be enumerated here.
func (c *Client) fileTag() string {
	osName := c.goos
	switch osName {
	case "darwin":
		osName = "osx"
	case "windows":
		osName = "win"
	}
	archName := c.goarch
	switch archName {
	case "amd64":
		archName = "x64"
	case "386":
		archName = "x86"
	case "arm64":
		archName = "arm64"
	}
	return osName + "-" + archName
}

func (c *Client) supports(e entry) bool {
	tag := c.fileTag()
	for _, f := range e.Files {
		if strings.HasPrefix(f, tag) {
			return true
		}
	}
	return false
}

func sortedBySemver(entries []entry) ([]entry, error) {
	type parsed struct {
		e entry
		v *semver.Version
	}
	parsedEntries := make([]parsed, 0, len(entries))
	for _, e := range entries {
		v, err := e.semver()
		if err != nil {
			continue // skip non-semver rows (nightly/rc builds with odd tags)
		}
		parsedEntries = append(parsedEntries, parsed{e, v})
	}
	sort.Slice(parsedEntries, func(i, j int) bool {
		return parsedEntries[i].v.GreaterThan(parsedEntries[j].v)
	})
	out := make([]entry, len(parsedEntries))
	for i, p := range parsedEntries {
		out[i] = p.e
	}
	return out, nil
}

// Resolve implements versionspec.Resolver so a VersionSpec (Semver or
// Tag kind) can delegate straight to this client.
func (c *Client) Resolve(ctx context.Context, constraints *semver.Constraints) (*semver.Version, error) {
	entries, err := c.fetchIndex(ctx)
	if err != nil {
		return nil, err
	}
	sorted, err := sortedBySemver(entries)
	if err != nil {
		return nil, err
	}
	for _, e := range sorted {
		if !c.supports(e) {
			continue
		}
		v, err := e.semver()
		if err != nil {
			continue
		}
		if constraints.Check(v) {
			return v, nil
		}
	}
	return nil, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "no node version satisfies "+constraints.String())
}

// Tag implements versionspec.Resolver for "latest" and "lts".
func (c *Client) Tag(ctx context.Context, tag string) (*semver.Version, error) {
	switch tag {
	case "latest":
		v, err := c.Latest(ctx)
		if err != nil {
			return nil, err
		}
		return v.Num, nil
	case "lts":
		v, err := c.LTS(ctx)
		if err != nil {
			return nil, err
		}
		return v.Num, nil
	default:
		return nil, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "unknown node tag "+tag)
	}
}

// ResolveSpec implements registry.Client, dispatching through the shared
// versionspec grammar.
func (c *Client) ResolveSpec(ctx context.Context, spec versionspec.VersionSpec) (registry.Version, error) {
	v, err := spec.Resolve(ctx, c)
	if err != nil {
		return registry.Version{}, err
	}
	return registry.Version{Num: v}, nil
}

// Latest returns the newest version supporting the current platform.
func (c *Client) Latest(ctx context.Context) (registry.Version, error) {
	entries, err := c.fetchIndex(ctx)
	if err != nil {
		return registry.Version{}, err
	}
	sorted, err := sortedBySemver(entries)
	if err != nil {
		return registry.Version{}, err
	}
	for _, e := range sorted {
		if !c.supports(e) {
			continue
		}
		v, err := e.semver()
		if err != nil {
			continue
		}
		return registry.Version{Num: v}, nil
	}
	return registry.Version{}, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "no node release supports this platform")
}

// LTS returns the newest version carrying a non-false "lts" codename.
func (c *Client) LTS(ctx context.Context) (registry.Version, error) {
	entries, err := c.fetchIndex(ctx)
	if err != nil {
		return registry.Version{}, err
	}
	sorted, err := sortedBySemver(entries)
	if err != nil {
		return registry.Version{}, err
	}
	for _, e := range sorted {
		if _, ok := e.ltsName(); !ok {
			continue
		}
		if !c.supports(e) {
			continue
		}
		v, err := e.semver()
		if err != nil {
			continue
		}
		return registry.Version{Num: v}, nil
	}
	return registry.Version{}, terrors.New(terrors.CategoryRegistry, terrors.CodeNoMatchingVersion, "no LTS node release supports this platform")
}

// ArchiveURL builds the download URL for v on the current platform,
// applying the "distro" hook slot if configured.
func (c *Client) ArchiveURL(ctx context.Context, v registry.Version) (string, error) {
	ext := "tar.gz"
	if c.goos == "windows" {
		ext = "zip"
	}
	filename := fmt.Sprintf("node-v%s-%s", v.Num.String(), c.fileTag())
	defaultURL := fmt.Sprintf("https://nodejs.org/dist/v%s/%s.%s", v.Num.String(), filename, ext)

	if c.hooks == nil {
		return defaultURL, nil
	}
	return c.hooks.Apply(ctx, hooks.ToolNode, hooks.SlotDistro, defaultURL, hooks.Vars{
		Version:  "v" + v.Num.String(),
		Filename: filename,
		Ext:      ext,
		OS:       c.goos,
		Arch:     c.goarch,
	})
}
