// Package project discovers the nearest enclosing JavaScript project (a
// directory containing package.json), parses its "volta" key into a
// Platform, follows "extends" chains, and performs the one mutation a
// project manifest needs: pinning a tool version into that key without
// disturbing any other byte of the file.
//
// Grounded on the read-modify-write-under-lock discipline of tomei's
// internal/state/store.go, adapted from a dedicated state file to an
// arbitrary user-owned JSON document where only one key may change.
package project

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/fsutil"
	"github.com/turnstile-dev/turnstile/internal/lock"
	"github.com/turnstile-dev/turnstile/internal/platform"
	"github.com/turnstile-dev/turnstile/internal/terrors"
	"github.com/turnstile-dev/turnstile/internal/tool"
)

const manifestName = "package.json"

// VoltaKey is the decoded shape of a manifest's "volta" key. Field name
// and JSON tags are kept exactly as spec.md §6 specifies, independent of
// this project having a different name.
type VoltaKey struct {
	Node    string `json:"node,omitempty"`
	Npm     string `json:"npm,omitempty"`
	Yarn    string `json:"yarn,omitempty"`
	Pnpm    string `json:"pnpm,omitempty"`
	Extends string `json:"extends,omitempty"`
}

// IsZero reports whether the key is absent/empty.
func (v VoltaKey) IsZero() bool {
	return v.Node == "" && v.Npm == "" && v.Yarn == "" && v.Pnpm == "" && v.Extends == ""
}

type manifestShape struct {
	Volta      *VoltaKey       `json:"volta,omitempty"`
	Workspaces json.RawMessage `json:"workspaces,omitempty"`
}

// Project is one resolved manifest on the discovery path, with its
// extends chain already followed and merged.
type Project struct {
	ManifestPath  string
	Volta         VoltaKey
	ExtendsChain  []string
	WorkspaceRoot string
}

// Discover walks upward from startDir looking for the first ancestor
// holding a package.json. Each ancestor is visited at most once (the
// walk terminates at the filesystem root), satisfying spec.md §3's
// discovery invariant.
func Discover(startDir string) (*Project, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, terrors.Wrap(terrors.CategoryInput, terrors.CodeInvalidManifest, "resolving start directory", err)
	}

	visited := map[string]struct{}{}
	for {
		if _, seen := visited[dir]; seen {
			break
		}
		visited[dir] = struct{}{}

		manifestPath := filepath.Join(dir, manifestName)
		if _, err := os.Stat(manifestPath); err == nil {
			return load(manifestPath, nil)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, nil // no project found; caller falls back to the user default
}

func load(manifestPath string, chain []string) (*Project, error) {
	for _, visited := range chain {
		if visited == manifestPath {
			return nil, terrors.NewExtendsCycleError(append(append([]string{}, chain...), manifestPath))
		}
	}
	chain = append(chain, manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "reading "+manifestPath, err)
	}
	var shape manifestShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, terrors.Wrap(terrors.CategoryInput, terrors.CodeInvalidManifest, "parsing "+manifestPath, err)
	}

	p := &Project{ManifestPath: manifestPath, ExtendsChain: append([]string{}, chain...)}
	if shape.Workspaces != nil {
		p.WorkspaceRoot = manifestPath
	}
	if shape.Volta == nil {
		return p, nil
	}
	own := *shape.Volta

	if own.Extends == "" {
		p.Volta = own
		return p, nil
	}

	parentPath := filepath.Join(filepath.Dir(manifestPath), own.Extends)
	parentPath = filepath.Clean(parentPath)
	if !isAncestorOrSibling(filepath.Dir(manifestPath), parentPath) {
		return nil, terrors.NewExtendsOutsideWorkspaceError(manifestPath, parentPath)
	}

	parent, err := load(parentPath, chain)
	if err != nil {
		return nil, err
	}
	p.Volta = mergeVoltaChildWins(own, parent.Volta)
	p.Volta.Extends = ""
	if p.WorkspaceRoot == "" {
		p.WorkspaceRoot = parent.ManifestPath
	}
	p.ExtendsChain = parent.ExtendsChain
	return p, nil
}

// isAncestorOrSibling reports whether target's directory is an ancestor
// of childDir or shares childDir's parent, per spec.md §4.10's "must
// resolve to a file whose directory is an ancestor or sibling of the
// referring manifest".
func isAncestorOrSibling(childDir, target string) bool {
	targetDir := filepath.Dir(target)
	if filepath.Dir(targetDir) == filepath.Dir(childDir) {
		return true
	}
	rel, err := filepath.Rel(targetDir, childDir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !hasDotDotPrefix(rel))
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

// mergeVoltaChildWins merges a child's volta key over its parent's,
// field by field (spec.md §4.10's extends semantics).
func mergeVoltaChildWins(child, parent VoltaKey) VoltaKey {
	out := parent
	if child.Node != "" {
		out.Node = child.Node
	}
	if child.Npm != "" {
		out.Npm = child.Npm
	}
	if child.Yarn != "" {
		out.Yarn = child.Yarn
	}
	if child.Pnpm != "" {
		out.Pnpm = child.Pnpm
	}
	return out
}

// ToPlatform converts the resolved volta key into a platform.Platform
// with OriginProject on every populated field. Fields that fail to
// parse as a version are surfaced as errors by the caller's VersionSpec
// resolution step, not here; ToPlatform only builds Sourced wrappers
// around already-resolved versions.
func ToPlatform(node *semver.Version, npm *semver.Version, pmKind platform.PmKind, pmVersion *semver.Version) platform.Platform {
	p := platform.Platform{Node: platform.Sourced[*semver.Version]{Value: node, Origin: platform.OriginProject}}
	if npm != nil {
		p.Npm = &platform.Sourced[*semver.Version]{Value: npm, Origin: platform.OriginProject}
	}
	if pmKind != platform.PmNone && pmVersion != nil {
		p.Pm = &platform.Sourced[platform.PmSelection]{
			Value:  platform.PmSelection{Kind: pmKind, Version: pmVersion},
			Origin: platform.OriginProject,
		}
	}
	return p
}

// Pin records tool@version into manifestPath's "volta" key under an
// exclusive lock, preserving every other byte of the file (spec.md §8's
// "every other byte of the manifest is unchanged" property).
func Pin(ctx context.Context, lk *lock.Lock, manifestPath string, t tool.Tool, version string) error {
	guard, err := lk.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return err
	}
	defer guard.Release()

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "reading "+manifestPath, err)
	}

	fields, err := scanTopLevelFields(data)
	if err != nil {
		return err
	}

	var existing VoltaKey
	var voltaSpan *field
	for i, f := range fields {
		if f.name == "volta" {
			voltaSpan = &fields[i]
			if err := json.Unmarshal(data[f.start:f.end], &existing); err != nil {
				return terrors.Wrap(terrors.CategoryInput, terrors.CodeInvalidManifest, "parsing existing volta key", err)
			}
		}
	}

	updated := existing
	setVoltaField(&updated, t.Name(), version)

	newValue, err := marshalVoltaOrderedFields(updated)
	if err != nil {
		return err
	}

	var out []byte
	if voltaSpan != nil {
		out, err = replaceTopLevelField(data, "volta", newValue)
	} else {
		out, err = insertTopLevelField(data, "volta", newValue)
	}
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(manifestPath, out, 0o644)
}

func setVoltaField(v *VoltaKey, name, version string) {
	switch name {
	case "node":
		v.Node = version
	case "npm":
		v.Npm = version
	case "yarn":
		v.Yarn = version
	case "pnpm":
		v.Pnpm = version
	}
}

// marshalVoltaOrderedFields renders the volta object with the fixed key
// order spec.md §6 specifies (node, npm, yarn, pnpm, extends), 2-space
// indent, LF endings — the canonical serialization the spec requires for
// the key as a whole, even though the rest of the manifest is untouched.
func marshalVoltaOrderedFields(v VoltaKey) ([]byte, error) {
	type kv struct {
		key   string
		value string
	}
	var pairs []kv
	if v.Node != "" {
		pairs = append(pairs, kv{"node", v.Node})
	}
	if v.Npm != "" {
		pairs = append(pairs, kv{"npm", v.Npm})
	}
	if v.Yarn != "" {
		pairs = append(pairs, kv{"yarn", v.Yarn})
	}
	if v.Pnpm != "" {
		pairs = append(pairs, kv{"pnpm", v.Pnpm})
	}
	if v.Extends != "" {
		pairs = append(pairs, kv{"extends", v.Extends})
	}

	var buf []byte
	buf = append(buf, '{', '\n')
	for i, p := range pairs {
		keyBytes, _ := json.Marshal(p.key)
		valBytes, _ := json.Marshal(p.value)
		buf = append(buf, []byte("    ")...)
		buf = append(buf, keyBytes...)
		buf = append(buf, ':', ' ')
		buf = append(buf, valBytes...)
		if i < len(pairs)-1 {
			buf = append(buf, ',')
		}
		buf = append(buf, '\n')
	}
	buf = append(buf, []byte("  }")...)
	return buf, nil
}
