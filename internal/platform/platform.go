// Package platform defines the resolved (node, npm?, pm?) triple a Run
// invocation executes under, and the origin-tracking value type used to
// explain, to a user, why a particular version was chosen.
package platform

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Origin records which precedence tier a Sourced value came from.
type Origin string

const (
	OriginProject     Origin = "project"
	OriginDefault     Origin = "default"
	OriginCommandLine Origin = "command-line"
	OriginBinary      Origin = "binary"
)

// Sourced pairs a value with the origin it was resolved from, so a
// caller can render "18.17.1 (pinned in package.json)" instead of a
// bare version number.
type Sourced[T any] struct {
	Value  T
	Origin Origin
}

// DescribeOrigin returns the phrase naming where the value came from
// ("pinned in package.json", "default", ...), without the value itself;
// Platform.Describe combines it with each field's version.
func (s Sourced[T]) DescribeOrigin() string {
	switch s.Origin {
	case OriginProject:
		return "pinned in package.json"
	case OriginDefault:
		return "default"
	case OriginCommandLine:
		return "command line"
	case OriginBinary:
		return "installed with package"
	default:
		return string(s.Origin)
	}
}

// PmKind identifies which package manager a Platform names, distinct
// from npm's always-bundled status.
type PmKind string

const (
	PmNone  PmKind = ""
	PmYarn  PmKind = "yarn"
	PmPnpm  PmKind = "pnpm"
)

// PmSelection names a non-npm package manager and its version.
type PmSelection struct {
	Kind    PmKind
	Version *semver.Version
}

// Platform is the resolved toolchain for one Run invocation.
type Platform struct {
	Node Sourced[*semver.Version]
	// Npm is nil when the chosen Node's bundled npm should be used
	// (the "bundled sentinel" from the resolver contract); it is
	// non-nil only when a version was explicitly pinned or defaulted.
	Npm *Sourced[*semver.Version]
	Pm  *Sourced[PmSelection]
}

// IsZero reports whether p has no Node at all (nothing resolved yet).
func (p Platform) IsZero() bool {
	return p.Node.Value == nil
}

// Describe renders a human string like "node 18.17.1 (pinned in
// package.json), npm bundled, yarn 1.22.19 (default)".
func (p Platform) Describe() string {
	if p.IsZero() {
		return "no platform resolved"
	}
	out := fmt.Sprintf("node %s (%s)", p.Node.Value.String(), p.Node.DescribeOrigin())
	if p.Npm != nil {
		out += fmt.Sprintf(", npm %s (%s)", p.Npm.Value.String(), p.Npm.DescribeOrigin())
	} else {
		out += ", npm bundled"
	}
	if p.Pm != nil {
		out += fmt.Sprintf(", %s %s (%s)", p.Pm.Value.Kind, p.Pm.Value.Version.String(), p.Pm.DescribeOrigin())
	}
	return out
}

// Merge combines a more specific Platform (e.g. Project) with a
// fallback (e.g. Toolchain default), implementing:
//
//   - node: specific wins if present, else fallback.
//   - npm: follows specific's presence of Node, not independently —
//     "has node, no npm" means bundled npm, not "fall through to
//     fallback.Npm".
//   - pm: same tie-break as npm.
func Merge(specific, fallback Platform) Platform {
	if specific.IsZero() {
		return fallback
	}

	result := Platform{Node: specific.Node}
	result.Npm = specific.Npm
	result.Pm = specific.Pm
	return result
}
