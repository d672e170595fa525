// Package inventory is the content-addressed on-disk store of unpacked
// tool images, keyed by (tool, version). Presence of the image
// directory is the sole truth: Has/ImagePath never consult a separate
// index, matching spec.md §3's InventoryEntry invariant and grounded on
// tomei's internal/installer/repository.Installer (directory-presence as
// the source of truth for "is this tool installed").
package inventory

import (
	"os"
	"path/filepath"

	"github.com/turnstile-dev/turnstile/internal/fsutil"
	"github.com/turnstile-dev/turnstile/internal/layout"
)

// Inventory reports and commits tool images under a Layout's image/ and
// archive/ trees.
type Inventory struct {
	layout *layout.Layout
}

func New(l *layout.Layout) *Inventory {
	return &Inventory{layout: l}
}

// Has reports whether kind/version is already unpacked. A mid-rename
// ENOENT is retried once, since a concurrent Commit can briefly make the
// directory appear and disappear from a racing stat (spec.md §5's
// "readers must retry on NotFound").
func (inv *Inventory) Has(kind, version string) bool {
	dir := inv.layout.ImageDir(kind, version)
	if _, err := os.Stat(dir); err == nil {
		return true
	}
	if _, err := os.Stat(dir); err == nil {
		return true
	}
	return false
}

// ImagePath returns the directory an installed image lives in, whether
// or not it currently exists.
func (inv *Inventory) ImagePath(kind, version string) string {
	return inv.layout.ImageDir(kind, version)
}

// ArchivePath returns where the raw downloaded archive for kind/version
// is kept for offline reinstall, given its original extension (".tar.gz"
// or ".zip").
func (inv *Inventory) ArchivePath(kind, version, ext string) string {
	return inv.layout.ArchivePath(kind, version, ext)
}

// Commit moves a staged image directory and (optionally) a staged
// archive file into their final inventory locations. The image move
// runs first and is atomic, since the invariant that matters ("image/ is
// either absent or complete") is about the image, not the archive copy;
// if the archive move then fails, the committed image stays in place.
func (inv *Inventory) Commit(kind, version, stagedImageDir, stagedArchiveFile, archiveExt string) error {
	imageDest := inv.ImagePath(kind, version)
	if err := fsutil.StageAndCommit(
		filepath.Dir(stagedImageDir),
		func(staging string) error {
			return os.Rename(stagedImageDir, staging)
		},
		imageDest,
	); err != nil {
		return err
	}

	if stagedArchiveFile == "" {
		return nil
	}
	archiveDest := inv.ArchivePath(kind, version, archiveExt)
	if err := os.MkdirAll(filepath.Dir(archiveDest), 0o755); err != nil {
		return err
	}
	return fsutil.RenameWithRetry(stagedArchiveFile, archiveDest)
}

// HasArchive reports whether the raw archive for kind/version was kept
// for offline reuse.
func (inv *Inventory) HasArchive(kind, version, ext string) bool {
	_, err := os.Stat(inv.ArchivePath(kind, version, ext))
	return err == nil
}

// List returns every (version) directory present for kind, for the
// `list --all` command and the doctor-equivalent consistency scan.
func (inv *Inventory) List(kind string) ([]string, error) {
	dir := filepath.Join(inv.layout.Home(), "image", kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	return versions, nil
}

// Remove deletes an installed image (used by `uninstall`). It does not
// remove the kept archive, so a later install can reuse it offline.
func (inv *Inventory) Remove(kind, version string) error {
	return os.RemoveAll(inv.ImagePath(kind, version))
}
