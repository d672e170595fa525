// Package userpkgs maintains the registry of globally installed npm
// packages and the shims their declared binaries need on PATH. The
// install flow is modeled as an explicit state machine
// (Detected -> Staged -> ShimmedPartial -> Recorded) whose failure at any
// step reverts everything that step created, in reverse order — grounded
// on the stage/commit/rollback discipline of tomei's
// internal/installer/executor package, collapsed from a Kind-polymorphic
// DAG executor down to this module's one concrete flow.
package userpkgs

import (
	"context"
	"encoding/json"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/fsutil"
	"github.com/turnstile-dev/turnstile/internal/layout"
	"github.com/turnstile-dev/turnstile/internal/lock"
	"github.com/turnstile-dev/turnstile/internal/platform"
	"github.com/turnstile-dev/turnstile/internal/terrors"
)

// Loader names how a BinaryEntry's target is invoked: a script run
// through the owning package's Node (the common npm-bin-as-JS-file
// case) or a standalone native binary.
type Loader string

const (
	LoaderScript Loader = "script"
	LoaderBinary Loader = "binary"
)

// BinaryEntry is one binary a UserPackage declares, persisted at
// tools/user/bins/<binname>.json.
type BinaryEntry struct {
	Name           string `json:"name"`
	Package        string `json:"package"`
	Loader         Loader `json:"loader"`
	PathWithinImage string `json:"pathWithinImage"`
}

// platformDoc is the JSON shape of a UserPackage's resolved Platform.
type platformDoc struct {
	Node string `json:"node"`
	Npm  string `json:"npm,omitempty"`
	Pm   string `json:"pm,omitempty"`
	Yarn string `json:"yarn,omitempty"`
}

// UserPackage is one globally installed package, persisted at
// tools/user/packages/<name>.json. ImageRoot is the absolute directory
// holding the package's package.json — either turnstile's own
// content-addressed image/<name>/<version>/ (for a direct `turnstile
// install <pkg>` CLI invocation) or the package manager's global-prefix
// lib/node_modules/<name> (for a package the GlobalInterceptor detected).
// BinaryEntry.PathWithinImage is always relative to ImageRoot.
type UserPackage struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	Platform  platformDoc   `json:"platform"`
	ImageRoot string        `json:"imageRoot"`
	Bins      []BinaryEntry `json:"bins"`
}

// Registry reads and writes the package/bin JSON files and the shims
// under bin/.
type Registry struct {
	layout *layout.Layout
	lock   *lock.Lock
}

func New(l *layout.Layout, lk *lock.Lock) *Registry {
	return &Registry{layout: l, lock: lk}
}

// Load returns the recorded UserPackage for name, or (nil, nil) if none
// exists.
func (r *Registry) Load(name string) (*UserPackage, error) {
	data, err := os.ReadFile(r.layout.UserPackageFile(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "reading package record for "+name, err)
	}
	var pkg UserPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, terrors.Wrap(terrors.CategoryState, terrors.CodeStateCorrupt, "parsing package record for "+name, err)
	}
	return &pkg, nil
}

// LoadBin returns the recorded BinaryEntry for binName, or (nil, nil) if
// no shim is registered under that name.
func (r *Registry) LoadBin(binName string) (*BinaryEntry, error) {
	data, err := os.ReadFile(r.layout.UserBinEntryFile(binName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "reading bin record for "+binName, err)
	}
	var entry BinaryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, terrors.Wrap(terrors.CategoryState, terrors.CodeStateCorrupt, "parsing bin record for "+binName, err)
	}
	return &entry, nil
}

// ResolvedPlatform decodes a UserPackage's stored platform back into a
// platform.Platform with OriginBinary on every field, per spec.md
// §4.13 rule 5.
func (pkg *UserPackage) ResolvedPlatform() (platform.Platform, error) {
	var out platform.Platform
	node, err := semver.NewVersion(pkg.Platform.Node)
	if err != nil {
		return platform.Platform{}, terrors.Wrap(terrors.CategoryState, terrors.CodeStateCorrupt, "parsing recorded node version", err)
	}
	out.Node = platform.Sourced[*semver.Version]{Value: node, Origin: platform.OriginBinary}
	if pkg.Platform.Npm != "" {
		npm, err := semver.NewVersion(pkg.Platform.Npm)
		if err == nil {
			out.Npm = &platform.Sourced[*semver.Version]{Value: npm, Origin: platform.OriginBinary}
		}
	}
	if pkg.Platform.Pm != "" {
		pm, err := semver.NewVersion(pkg.Platform.Pm)
		if err == nil {
			out.Pm = &platform.Sourced[platform.PmSelection]{
				Value:  platform.PmSelection{Kind: platform.PmKind(pkg.Platform.Yarn), Version: pm},
				Origin: platform.OriginBinary,
			}
		}
	}
	return out, nil
}

// step names one transition of the install state machine, for revert
// bookkeeping.
type step int

const (
	stepDetected step = iota
	stepStaged
	stepShimmedPartial
	stepRecorded
)

// Install walks the Detected -> Staged -> ShimmedPartial -> Recorded
// state machine for name@version, given its already-unpacked image
// directory and the binaries its manifest declares. On any failure,
// everything the failed step created is removed, in reverse order.
func (r *Registry) Install(ctx context.Context, pkg UserPackage, binTargets map[string]string) (err error) {
	guard, err := r.lock.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return err
	}
	defer guard.Release()

	reached := stepDetected
	var createdShims []string
	defer func() {
		if err == nil {
			return
		}
		r.revert(reached, pkg.Name, pkg.Bins, createdShims)
	}()

	// Staged: nothing to persist yet, binTargets already computed by caller.
	reached = stepStaged

	for _, bin := range pkg.Bins {
		linkPath := r.layout.BinDir() + string(os.PathSeparator) + bin.Name
		target, ok := binTargets[bin.Name]
		if !ok {
			continue
		}
		if _, shimErr := fsutil.CreateShim(target, linkPath); shimErr != nil {
			err = terrors.Wrap(terrors.CategoryInstall, terrors.CodeExtractFailed, "creating shim for "+bin.Name, shimErr)
			return err
		}
		createdShims = append(createdShims, linkPath)
	}
	reached = stepShimmedPartial

	for _, bin := range pkg.Bins {
		data, marshalErr := json.MarshalIndent(bin, "", "  ")
		if marshalErr != nil {
			err = marshalErr
			return err
		}
		if writeErr := fsutil.WriteFileAtomic(r.layout.UserBinEntryFile(bin.Name), data, 0o644); writeErr != nil {
			err = writeErr
			return err
		}
	}
	pkgData, marshalErr := json.MarshalIndent(pkg, "", "  ")
	if marshalErr != nil {
		err = marshalErr
		return err
	}
	if writeErr := fsutil.WriteFileAtomic(r.layout.UserPackageFile(pkg.Name), pkgData, 0o644); writeErr != nil {
		err = writeErr
		return err
	}
	reached = stepRecorded
	return nil
}

func (r *Registry) revert(reached step, name string, bins []BinaryEntry, createdShims []string) {
	if reached >= stepRecorded {
		_ = os.Remove(r.layout.UserPackageFile(name))
	}
	if reached >= stepShimmedPartial {
		for _, bin := range bins {
			_ = os.Remove(r.layout.UserBinEntryFile(bin.Name))
		}
	}
	if reached >= stepStaged {
		for _, shim := range createdShims {
			_ = os.Remove(shim)
		}
	}
}

// Uninstall removes name's BinaryEntry records, their shims, then the
// package record itself, in that order (spec.md §4.12).
func (r *Registry) Uninstall(ctx context.Context, name string) error {
	guard, err := r.lock.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return err
	}
	defer guard.Release()

	pkg, err := r.Load(name)
	if err != nil {
		return err
	}
	if pkg == nil {
		return terrors.New(terrors.CategoryState, terrors.CodeStateCorrupt, "package "+name+" is not installed")
	}

	for _, bin := range pkg.Bins {
		_ = os.Remove(r.layout.UserBinEntryFile(bin.Name))
		_ = os.Remove(r.layout.BinDir() + string(os.PathSeparator) + bin.Name)
	}
	return os.Remove(r.layout.UserPackageFile(name))
}

// ListAll returns every recorded UserPackage, for `list --all` and the
// doctor-equivalent consistency scan.
func (r *Registry) ListAll() ([]UserPackage, error) {
	entries, err := os.ReadDir(r.layout.UserPackagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []UserPackage
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := trimJSONExt(e.Name())
		pkg, err := r.Load(name)
		if err != nil || pkg == nil {
			continue
		}
		out = append(out, *pkg)
	}
	return out, nil
}

func trimJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}
