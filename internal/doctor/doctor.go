// Package doctor implements the consistency scan spec.md's supplemented
// features call for: dangling shims with no backing BinaryEntry,
// BinaryEntry records with no shim or no owning package, and
// UserPackage records whose image directory has gone missing.
// Grounded on tomei's internal/doctor.StateIssue taxonomy (kind/name/
// path), narrowed from that package's unmanaged-tool/PATH-conflict scan
// down to turnstile's three on-disk record kinds.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/turnstile-dev/turnstile/internal/layout"
	"github.com/turnstile-dev/turnstile/internal/tool"
	"github.com/turnstile-dev/turnstile/internal/userpkgs"
)

// IssueKind discriminates the three problems a scan can find.
type IssueKind string

const (
	// IssueDanglingShim is a file in bin/ that isn't a built-in tool
	// shim and has no matching BinaryEntry record.
	IssueDanglingShim IssueKind = "dangling_shim"
	// IssueOrphanedBinEntry is a BinaryEntry whose shim file is missing,
	// or whose owning UserPackage record no longer exists.
	IssueOrphanedBinEntry IssueKind = "orphaned_bin_entry"
	// IssueMissingImage is a UserPackage whose ImageRoot no longer
	// contains a package.json.
	IssueMissingImage IssueKind = "missing_image"
)

// Issue is one finding from Scan.
type Issue struct {
	Kind IssueKind
	Name string
	Path string
}

func (i Issue) Message() string {
	switch i.Kind {
	case IssueDanglingShim:
		return fmt.Sprintf("shim %s has no matching bin record", i.Path)
	case IssueOrphanedBinEntry:
		return fmt.Sprintf("bin record %s is orphaned", i.Path)
	case IssueMissingImage:
		return fmt.Sprintf("package %s's install directory is missing: %s", i.Name, i.Path)
	default:
		return fmt.Sprintf("unknown issue at %s", i.Path)
	}
}

// Report bundles every Issue a scan found, grouped for display.
type Report struct {
	Issues []Issue
}

func (r Report) HasIssues() bool { return len(r.Issues) > 0 }

// Scan walks bin/, tools/user/bins/, and tools/user/packages/, cross
// referencing each against the other two to find the three Issue kinds.
func Scan(l *layout.Layout, userPkgs *userpkgs.Registry) (Report, error) {
	var report Report

	builtinNames := map[string]bool{}
	for _, t := range tool.BuiltIns {
		builtinNames[t.Name()] = true
	}
	builtinNames["npx"] = true
	builtinNames["pnpx"] = true
	builtinNames["yarnpkg"] = true

	binEntries, err := scanBinEntries(l)
	if err != nil {
		return report, err
	}
	entryNames := make(map[string]userpkgs.BinaryEntry, len(binEntries))
	for _, e := range binEntries {
		entryNames[e.Name] = e
	}

	shims, err := scanShims(l)
	if err != nil {
		return report, err
	}
	shimNames := make(map[string]bool, len(shims))
	for _, s := range shims {
		shimNames[s] = true
	}

	for _, s := range shims {
		if builtinNames[s] {
			continue
		}
		if _, ok := entryNames[s]; !ok {
			report.Issues = append(report.Issues, Issue{Kind: IssueDanglingShim, Name: s, Path: filepath.Join(l.BinDir(), s)})
		}
	}

	packages, err := userPkgs.ListAll()
	if err != nil {
		return report, err
	}
	packageNames := make(map[string]bool, len(packages))
	for _, pkg := range packages {
		packageNames[pkg.Name] = true
	}

	for _, e := range binEntries {
		if !shimNames[e.Name] {
			report.Issues = append(report.Issues, Issue{Kind: IssueOrphanedBinEntry, Name: e.Name, Path: l.UserBinEntryFile(e.Name)})
			continue
		}
		if !packageNames[e.Package] {
			report.Issues = append(report.Issues, Issue{Kind: IssueOrphanedBinEntry, Name: e.Name, Path: l.UserBinEntryFile(e.Name)})
		}
	}

	for _, pkg := range packages {
		if _, err := os.Stat(filepath.Join(pkg.ImageRoot, "package.json")); err != nil {
			report.Issues = append(report.Issues, Issue{Kind: IssueMissingImage, Name: pkg.Name, Path: pkg.ImageRoot})
		}
	}

	return report, nil
}

func scanShims(l *layout.Layout) ([]string, error) {
	entries, err := os.ReadDir(l.BinDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, trimExe(e.Name()))
	}
	return names, nil
}

func scanBinEntries(l *layout.Layout) ([]userpkgs.BinaryEntry, error) {
	entries, err := os.ReadDir(l.UserBinsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []userpkgs.BinaryEntry
	reg := userpkgs.New(l, nil)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := trimJSONExt(e.Name())
		entry, err := reg.LoadBin(name)
		if err != nil || entry == nil {
			continue
		}
		out = append(out, *entry)
	}
	return out, nil
}

func trimExe(name string) string {
	const ext = ".exe"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}

func trimJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}
