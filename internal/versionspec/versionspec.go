// Package versionspec parses the version specifiers that appear in a
// manifest's "volta" key or on the command line ("20", "^18.17", "lts",
// "latest", "20.11.0") and resolves them against a registry.
package versionspec

import (
	"context"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/terrors"
)

// Kind discriminates the four shapes a VersionSpec can take.
type Kind int

const (
	KindNone Kind = iota
	KindExact
	KindSemver
	KindTag
)

// VersionSpec is one parsed specifier. Exactly one of the fields named
// after Kind is meaningful, selected by Kind itself.
type VersionSpec struct {
	Kind        Kind
	Exact       *semver.Version
	Constraints *semver.Constraints
	Tag         string
}

// Resolver is the subset of a registry client VersionSpec needs to turn
// a Tag or Semver spec into a concrete Version.
type Resolver interface {
	Resolve(ctx context.Context, c *semver.Constraints) (*semver.Version, error)
	Tag(ctx context.Context, tag string) (*semver.Version, error)
}

var rangeOperators = regexp.MustCompile(`[\^~><=|\s]`)

var tagPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)

// Parse implements the rules in the manifest/CLI grammar: a leading "v"
// is stripped; a bare "X" or "X.Y" becomes a caret range; "latest" and
// "lts" (and any other bare word starting with a letter) are tags;
// anything starting with a digit and free of range operators is Exact;
// everything else is parsed as a semver constraint.
func Parse(raw string) (VersionSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return VersionSpec{}, terrors.NewInvalidVersionSpecError(raw, nil)
	}
	s = strings.TrimPrefix(s, "v")

	if s == "" {
		return VersionSpec{}, terrors.NewInvalidVersionSpecError(raw, nil)
	}

	if tagPattern.MatchString(s) {
		return VersionSpec{Kind: KindTag, Tag: s}, nil
	}

	if isBareMajorOrMinor(s) {
		c, err := semver.NewConstraint("^" + s)
		if err != nil {
			return VersionSpec{}, terrors.NewInvalidVersionSpecError(raw, err)
		}
		return VersionSpec{Kind: KindSemver, Constraints: c}, nil
	}

	if !rangeOperators.MatchString(s) {
		v, err := semver.NewVersion(s)
		if err != nil {
			return VersionSpec{}, terrors.NewInvalidVersionSpecError(raw, err)
		}
		return VersionSpec{Kind: KindExact, Exact: v}, nil
	}

	c, err := semver.NewConstraint(s)
	if err != nil {
		return VersionSpec{}, terrors.NewInvalidVersionSpecError(raw, err)
	}
	return VersionSpec{Kind: KindSemver, Constraints: c}, nil
}

func startsWithDigit(s string) bool {
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

// isBareMajorOrMinor reports whether s is "X" or "X.Y" with no other
// components and no range syntax — these get an implicit caret range
// per the manifest grammar ("20" means "^20", not exactly 20.0.0).
func isBareMajorOrMinor(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) > 2 || len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if p == "" || !allDigits(p) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Resolve returns the concrete version this spec refers to. Exact specs
// never touch the network; Tag and Semver specs defer to r.
func (v VersionSpec) Resolve(ctx context.Context, r Resolver) (*semver.Version, error) {
	switch v.Kind {
	case KindExact:
		return v.Exact, nil
	case KindTag:
		return r.Tag(ctx, v.Tag)
	case KindSemver:
		return r.Resolve(ctx, v.Constraints)
	default:
		return nil, terrors.New(terrors.CategoryInput, terrors.CodeInvalidVersionSpec, "empty version specifier")
	}
}

// String renders the spec back to its manifest form where that's
// unambiguous (Tag, Exact); semver constraints render via their
// original String() from the semver package.
func (v VersionSpec) String() string {
	switch v.Kind {
	case KindExact:
		return v.Exact.Original()
	case KindTag:
		return v.Tag
	case KindSemver:
		return v.Constraints.String()
	default:
		return ""
	}
}
