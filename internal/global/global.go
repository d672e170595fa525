// Package global implements the GlobalInterceptor (spec.md §4.16): after
// a turnstile-dispatched npm/yarn/pnpm command mutates global packages,
// it reads the package manager's own global-prefix tree directly (rather
// than shelling back out to "npm ls -g"), diffs that against
// internal/userpkgs' registry, and projects the difference into
// UserPackage records and shims via that package's install/uninstall
// state machine. The package manager remains the source of truth for
// what's "installed" — this only keeps turnstile's mirror of that truth
// in sync.
package global

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/turnstile-dev/turnstile/internal/platform"
	"github.com/turnstile-dev/turnstile/internal/userpkgs"
)

const maxConcurrentPackages = 8

// manifest is the subset of package.json Reconcile needs: name, version,
// and the "bin" field in either of its two valid shapes (a bare string,
// meaning one binary named after the package, or a map of name ->
// relative path).
type manifest struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Bin     json.RawMessage `json:"bin,omitempty"`
}

func (m manifest) bins() map[string]string {
	if len(m.Bin) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(m.Bin, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return map[string]string{m.Name: asString}
	}
	var asMap map[string]string
	if err := json.Unmarshal(m.Bin, &asMap); err == nil {
		return asMap
	}
	return nil
}

// Reconcile scans globalPrefixDir/lib/node_modules for installed
// packages, diffs against registry, and installs/uninstalls to match.
// resolvedPlatform is recorded as the Platform each newly detected
// package was installed under, per spec.md §4.13 rule 5.
func Reconcile(ctx context.Context, registry *userpkgs.Registry, globalPrefixDir string, resolvedPlatform platform.Platform) error {
	found, err := scanGlobalPackages(globalPrefixDir)
	if err != nil {
		return err
	}
	recorded, err := registry.ListAll()
	if err != nil {
		return err
	}

	recordedByName := make(map[string]userpkgs.UserPackage, len(recorded))
	for _, pkg := range recorded {
		recordedByName[pkg.Name] = pkg
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPackages)

	for name, m := range found {
		name, m := name, m
		if _, already := recordedByName[name]; already {
			continue
		}
		g.Go(func() error {
			return installDetected(gctx, registry, globalPrefixDir, m, resolvedPlatform)
		})
	}

	for name := range recordedByName {
		name := name
		if _, stillPresent := found[name]; stillPresent {
			continue
		}
		g.Go(func() error {
			return registry.Uninstall(gctx, name)
		})
	}

	return g.Wait()
}

func installDetected(ctx context.Context, registry *userpkgs.Registry, globalPrefixDir string, m manifest, resolvedPlatform platform.Platform) error {
	bins := m.bins()
	if len(bins) == 0 {
		return nil
	}

	entries := make([]userpkgs.BinaryEntry, 0, len(bins))
	targets := make(map[string]string, len(bins))
	pkgDir := filepath.Join(globalPrefixDir, "lib", "node_modules", m.Name)
	for binName, relPath := range bins {
		absTarget := filepath.Join(pkgDir, relPath)
		entries = append(entries, userpkgs.BinaryEntry{
			Name:            binName,
			Package:         m.Name,
			Loader:          loaderFor(absTarget),
			PathWithinImage: relPath,
		})
		targets[binName] = absTarget
	}

	pkg := userpkgs.UserPackage{
		Name:      m.Name,
		Version:   m.Version,
		ImageRoot: pkgDir,
		Bins:      entries,
	}
	if !resolvedPlatform.IsZero() {
		pkg.Platform.Node = resolvedPlatform.Node.Value.String()
		if resolvedPlatform.Npm != nil {
			pkg.Platform.Npm = resolvedPlatform.Npm.Value.String()
		}
		if resolvedPlatform.Pm != nil {
			pkg.Platform.Pm = resolvedPlatform.Pm.Value.Version.String()
			pkg.Platform.Yarn = string(resolvedPlatform.Pm.Value.Kind)
		}
	}

	return registry.Install(ctx, pkg, targets)
}

func loaderFor(path string) userpkgs.Loader {
	if strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".cjs") || strings.HasSuffix(path, ".mjs") {
		return userpkgs.LoaderScript
	}
	return userpkgs.LoaderBinary
}

// scanGlobalPackages reads globalPrefixDir/lib/node_modules directly,
// skipping .bin and honoring @scope/name packages.
func scanGlobalPackages(globalPrefixDir string) (map[string]manifest, error) {
	modulesDir := filepath.Join(globalPrefixDir, "lib", "node_modules")
	entries, err := os.ReadDir(modulesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]manifest{}, nil
		}
		return nil, err
	}

	out := map[string]manifest{}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == ".bin" {
			continue
		}
		if strings.HasPrefix(e.Name(), "@") {
			scopeDir := filepath.Join(modulesDir, e.Name())
			scoped, err := os.ReadDir(scopeDir)
			if err != nil {
				continue
			}
			for _, s := range scoped {
				if !s.IsDir() {
					continue
				}
				if m, ok := readManifest(filepath.Join(scopeDir, s.Name())); ok {
					out[m.Name] = m
				}
			}
			continue
		}
		if m, ok := readManifest(filepath.Join(modulesDir, e.Name())); ok {
			out[m.Name] = m
		}
	}
	return out, nil
}

func readManifest(pkgDir string) (manifest, bool) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return manifest{}, false
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, false
	}
	if m.Name == "" {
		return manifest{}, false
	}
	return m, true
}
