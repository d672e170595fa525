// Package install orchestrates fetch -> verify -> extract -> atomic
// commit for one tool image, and bounds the parallel ensure of a whole
// Platform's images (Node plus npm/Yarn/pnpm) with an errgroup limit. Grounded
// on tomei's internal/installer/engine.Engine (lock -> probe -> fetch ->
// verify -> extract -> commit, executeNodesParallel's
// semaphore.NewWeighted), collapsed from tomei's arbitrary resource DAG
// down to the fixed two-or-three-image shape a Platform has.
package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/turnstile-dev/turnstile/internal/archive"
	"github.com/turnstile-dev/turnstile/internal/checksum"
	"github.com/turnstile-dev/turnstile/internal/fetch"
	"github.com/turnstile-dev/turnstile/internal/inventory"
	"github.com/turnstile-dev/turnstile/internal/layout"
	"github.com/turnstile-dev/turnstile/internal/lock"
	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/terrors"
)

// maxConcurrentImages bounds how many tool images one invocation will
// download/extract at once — a Platform never names more than three
// (node, npm-or-nothing, a pm), but the cap keeps this honest if that
// ever grows.
const maxConcurrentImages = 4

// Target is one image Ensure should guarantee present: a tool kind, its
// resolved Version, the Client that can produce an archive URL for it,
// and a ProgressFunc for the download (may be nil).
type Target struct {
	Kind     string
	Version  registry.Version
	Client   registry.Client
	Progress fetch.ProgressFunc
}

// Installer ensures tool images are present in the Inventory, via the
// seven steps of spec.md §4.14.
type Installer struct {
	layout    *layout.Layout
	lock      *lock.Lock
	inventory *inventory.Inventory
	fetcher   *fetch.Fetcher
}

func New(l *layout.Layout, lk *lock.Lock, inv *inventory.Inventory, fetcher *fetch.Fetcher) *Installer {
	return &Installer{layout: l, lock: lk, inventory: inv, fetcher: fetcher}
}

// EnsureAll ensures every target is present, installing missing ones
// concurrently (spec.md §5's "primarily parallel threads for I/O").
func (in *Installer) EnsureAll(ctx context.Context, targets []Target) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentImages)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			return in.Ensure(gctx, t)
		})
	}
	return g.Wait()
}

// Ensure implements spec.md §4.14's seven steps for one target.
func (in *Installer) Ensure(ctx context.Context, t Target) error {
	kind := t.Kind
	version := t.Version.Num.String()

	// Step 1: shared-lock probe.
	shared, err := in.lock.Acquire(ctx, lock.Shared)
	if err != nil {
		return err
	}
	has := in.inventory.Has(kind, version)
	if relErr := shared.Release(); relErr != nil {
		return relErr
	}
	if has {
		return nil
	}

	// Step 2: upgrade to exclusive, re-probe to avoid double work.
	excl, err := in.lock.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return err
	}
	defer excl.Release()
	if in.inventory.Has(kind, version) {
		return nil
	}

	// Step 3: resolve archive URL.
	url := t.Version.ArchiveURL
	if url == "" {
		url, err = t.Client.ArchiveURL(ctx, t.Version)
		if err != nil {
			return err
		}
	}
	archiveType := archive.DetectType(url)
	ext := ".tar.gz"
	if archiveType == archive.Zip {
		ext = ".zip"
	} else if archiveType == "" {
		if runtime.GOOS == "windows" {
			archiveType = archive.Zip
			ext = ".zip"
		} else {
			archiveType = archive.TarGz
			ext = ".tar.gz"
		}
	}

	stagingRoot := filepath.Join(in.layout.TmpDir(), fmt.Sprintf("staging-%s-%s-%d", kind, version, os.Getpid()))
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "creating staging dir", err)
	}
	defer os.RemoveAll(stagingRoot)

	// Step 4: download to tmp/staging-<kind>-<version>-<pid>/archive.
	archiveFile := filepath.Join(stagingRoot, "archive"+ext)
	if err := in.download(ctx, url, archiveFile, t.Progress); err != nil {
		return err
	}

	// Step 5: verify integrity if the registry supplied one.
	if t.Version.Integrity.Algorithm != "" {
		f, err := os.Open(archiveFile)
		if err != nil {
			return terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "reopening downloaded archive", err)
		}
		ok, verr := checksum.Verify(f, t.Version.Integrity)
		f.Close()
		if verr != nil {
			return terrors.Wrap(terrors.CategoryInstall, terrors.CodeIntegrityFailed, "verifying archive checksum", verr)
		}
		if !ok {
			return terrors.NewChecksumError(kind, url, t.Version.Integrity.String(), "(mismatch)")
		}
	}

	// Step 6: extract into tmp/staging-<kind>-<version>-<pid>/image.
	imageStaging := filepath.Join(stagingRoot, "image")
	if err := os.MkdirAll(imageStaging, 0o755); err != nil {
		return terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "creating image staging dir", err)
	}
	f, err := os.Open(archiveFile)
	if err != nil {
		return terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "reopening archive for extraction", err)
	}
	extractErr := archive.Extract(archiveType, f, imageStaging)
	f.Close()
	if extractErr != nil {
		return terrors.Wrap(terrors.CategoryInstall, terrors.CodeExtractFailed, "extracting "+kind+"@"+version, extractErr)
	}
	root, err := singleTopLevelDir(imageStaging)
	if err == nil && root != "" {
		imageStaging = root
	}

	// Step 7: stage_and_commit moves the image and archive into place.
	return in.inventory.Commit(kind, version, imageStaging, archiveFile, ext)
}

// singleTopLevelDir reports the one subdirectory under dir when it
// contains exactly one entry and that entry is a directory — Node/npm
// distributions unpack into a single versioned directory
// ("node-v20.5.0-linux-x64/"), and the image store wants its contents
// directly under image/<kind>/<version>/, not nested one level deeper.
func singleTopLevelDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", fmt.Errorf("not a single top-level directory")
	}
	return filepath.Join(dir, entries[0].Name()), nil
}

func (in *Installer) download(ctx context.Context, url, destFile string, progress fetch.ProgressFunc) error {
	body, err := in.fetcher.Fetch(ctx, url, fetch.UseAlways, 0, progress)
	if err != nil {
		return terrors.NewInstallError("", "downloading archive", err).WithURL(url)
	}
	defer body.Close()

	f, err := os.Create(destFile)
	if err != nil {
		return terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "creating staged archive file", err)
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "writing staged archive", writeErr)
			}
		}
		if readErr != nil {
			break
		}
	}
	return nil
}

// Uninstall removes kind/version from the inventory (the image only;
// the kept archive remains for offline reinstall, per spec.md §4.7).
func (in *Installer) Uninstall(ctx context.Context, kind, version string) error {
	guard, err := in.lock.Acquire(ctx, lock.Exclusive)
	if err != nil {
		return err
	}
	defer guard.Release()
	return in.inventory.Remove(kind, version)
}
