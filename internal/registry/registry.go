// Package registry declares the shared contract every tool-family index
// client implements (node, npmlike, yarn), so the resolver can treat them
// interchangeably.
package registry

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/checksum"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

// Version is one resolvable entry from an index: a concrete semver plus
// enough metadata to download and verify it.
type Version struct {
	Num *semver.Version
	// ArchiveURL is the download URL when the index publishes one with
	// the version (npm-family dist.tarball); otherwise it is empty and
	// Client.ArchiveURL derives the URL. Client.ResolveSpec only
	// guarantees Num.
	ArchiveURL string
	// Integrity is the expected checksum, if the index published one
	// alongside the version (npm-family dist.shasum/dist.integrity).
	// Zero value means no checksum is known, and Install skips
	// verification of the downloaded archive.
	Integrity checksum.Integrity
}

// Client resolves version specifiers against one tool family's index and
// turns a concrete Version into a download URL.
//
// ResolveSpec (not Resolve) is deliberate: each concrete client also
// implements versionspec.Resolver, whose own Resolve(ctx, *semver.
// Constraints) has an incompatible signature, and Go methods are
// disambiguated by name alone.
type Client interface {
	// ResolveSpec picks the Version satisfying spec, fetching and
	// parsing the index as needed (through the caller's fetch.Fetcher
	// cache).
	ResolveSpec(ctx context.Context, spec versionspec.VersionSpec) (Version, error)
	// ArchiveURL returns the download URL for v's platform-appropriate
	// asset.
	ArchiveURL(ctx context.Context, v Version) (string, error)
	// Latest returns the newest available version.
	Latest(ctx context.Context) (Version, error)
}

// LTSClient is implemented only by the Node client.
type LTSClient interface {
	Client
	LTS(ctx context.Context) (Version, error)
}
