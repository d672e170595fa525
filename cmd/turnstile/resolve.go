package main

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/platform"
	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/run"
	"github.com/turnstile-dev/turnstile/internal/tool"
	"github.com/turnstile-dev/turnstile/internal/toolchain"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

// clientFor returns the registry.Client backing t, for the four
// built-in tool families. Non-built-in tools (PackageBin, Package) have
// no single client here — package installs build an npmlike.Client
// keyed by package name instead, at the call site.
func clientFor(deps run.Deps, t tool.Tool) registry.Client {
	switch t.(type) {
	case tool.Node:
		return deps.Registries.Node
	case tool.Npm:
		return deps.Registries.Npm
	case tool.Yarn:
		return deps.Registries.Yarn
	case tool.Pnpm:
		return deps.Registries.Pnpm
	default:
		return nil
	}
}

// parseAndResolve parses spec and resolves it against client, returning
// the concrete version string to record or install.
func parseAndResolve(ctx context.Context, spec string, client registry.Client) (string, error) {
	v, err := resolveRegistryVersion(ctx, spec, client)
	if err != nil {
		return "", err
	}
	return v.Num.String(), nil
}

// resolveRegistryVersion parses spec and resolves it against client,
// returning the full registry.Version (archive URL / integrity included
// when the index published them) for install.Target to consume.
func resolveRegistryVersion(ctx context.Context, spec string, client registry.Client) (registry.Version, error) {
	vs, err := versionspec.Parse(spec)
	if err != nil {
		return registry.Version{}, err
	}
	return client.ResolveSpec(ctx, vs)
}

// resolveDefaultPlatform reads the user-default toolchain document and
// resolves its Node (and npm/pm, if set) specifiers into a concrete
// platform.Platform, the same merge internal/run performs for the
// Default tier. Used to stamp a Platform onto a UserPackage installed
// directly via `turnstile install <pkg>`, since no package manager
// process is doing the installing in that path.
func resolveDefaultPlatform(ctx context.Context, deps run.Deps) (platform.Platform, error) {
	doc, err := deps.Toolchain.Load()
	if err != nil {
		return platform.Platform{}, err
	}
	if doc.Node == "" {
		return platform.Platform{}, fmt.Errorf("no default node version set; run %q first", "turnstile install node@<version>")
	}
	return resolveToolchainDoc(ctx, deps, doc)
}

func resolveToolchainDoc(ctx context.Context, deps run.Deps, doc toolchain.Document) (platform.Platform, error) {
	var p platform.Platform

	nodeVer, err := resolveVersion(ctx, doc.Node, deps.Registries.Node)
	if err != nil {
		return p, err
	}
	p.Node = platform.Sourced[*semver.Version]{Value: nodeVer, Origin: platform.OriginDefault}

	if doc.Npm != "" {
		npmVer, err := resolveVersion(ctx, doc.Npm, deps.Registries.Npm)
		if err != nil {
			return p, err
		}
		p.Npm = &platform.Sourced[*semver.Version]{Value: npmVer, Origin: platform.OriginDefault}
	}

	switch {
	case doc.Pnpm != "":
		pmVer, err := resolveVersion(ctx, doc.Pnpm, deps.Registries.Pnpm)
		if err != nil {
			return p, err
		}
		p.Pm = &platform.Sourced[platform.PmSelection]{
			Value:  platform.PmSelection{Kind: platform.PmPnpm, Version: pmVer},
			Origin: platform.OriginDefault,
		}
	case doc.Yarn != "":
		pmVer, err := resolveVersion(ctx, doc.Yarn, deps.Registries.Yarn)
		if err != nil {
			return p, err
		}
		p.Pm = &platform.Sourced[platform.PmSelection]{
			Value:  platform.PmSelection{Kind: platform.PmYarn, Version: pmVer},
			Origin: platform.OriginDefault,
		}
	}
	return p, nil
}

func resolveVersion(ctx context.Context, raw string, client registry.Client) (*semver.Version, error) {
	spec, err := versionspec.Parse(raw)
	if err != nil {
		return nil, err
	}
	v, err := client.ResolveSpec(ctx, spec)
	if err != nil {
		return nil, err
	}
	return v.Num, nil
}
