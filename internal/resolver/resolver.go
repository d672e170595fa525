// Package resolver implements the pure merge step of spec.md §4.13: it
// combines an already-loaded Project platform, Toolchain default, and
// (for package binaries) a recorded UserPackage platform into the
// effective Platform for one invocation. It takes no lock and performs
// no I/O — every input is loaded by the caller first — so two
// concurrent invocations never observe each other's in-flight mutation,
// matching spec.md §5's resolver-snapshot guarantee.
//
// No teacher file matches this merge exactly: tomei reconciles a whole
// CUE-declared resource graph, not a three-tier version override chain.
// This package borrows tomei's Sourced-value/origin-tracking idiom
// (visible in its resource.Ref handling) rather than any one file's
// control flow.
package resolver

import (
	"github.com/turnstile-dev/turnstile/internal/platform"
	"github.com/turnstile-dev/turnstile/internal/terrors"
	"github.com/turnstile-dev/turnstile/internal/tool"
)

// Request bundles every already-resolved input the Resolver needs.
// Fields are zero-value Platforms/nil when that tier contributed
// nothing (no project found, no default ever set, not a package-binary
// invocation).
type Request struct {
	// Project is the Platform read from the nearest enclosing
	// manifest's volta key (with VersionSpecs already resolved to
	// concrete versions), or the zero Platform if no project was
	// found.
	Project platform.Platform
	// Default is the Toolchain's persisted user default.
	Default platform.Platform
	// CommandLine is a `run --node V` style one-off override, if the
	// invocation supplied one. It takes precedence over Project.
	CommandLine *platform.Platform
	// Tool is the invocation's target; only PackageBin triggers rule 5.
	Tool tool.Tool
	// UserPackagePlatform is the Platform a PackageBin's owning
	// UserPackage was installed under, if Tool is a PackageBin with an
	// existing record.
	UserPackagePlatform *platform.Platform
	// RestoreProjectNode implements the TURNSTILE_PROJECT_NODE escape
	// hatch spec.md §4.13 rule 5 mentions: even for a package binary,
	// run it under the project's Node rather than the one it was
	// installed with.
	RestoreProjectNode bool
}

// Resolve implements spec.md §4.13's five numbered steps.
func Resolve(req Request) (platform.Platform, error) {
	effective := req.Project
	if req.CommandLine != nil {
		effective = platform.Merge(*req.CommandLine, effective)
	}
	effective = platform.Merge(effective, req.Default)

	if effective.IsZero() {
		return platform.Platform{}, terrors.NewNoPlatformError()
	}

	if _, isBin := req.Tool.(tool.PackageBin); isBin && req.UserPackagePlatform != nil {
		pkgPlatform := *req.UserPackagePlatform
		if req.RestoreProjectNode && !req.Project.IsZero() {
			pkgPlatform.Node = req.Project.Node
		}
		return pkgPlatform, nil
	}

	return effective, nil
}
