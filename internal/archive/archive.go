// Package archive extracts the two archive formats Node/npm/Yarn/pnpm
// distribute in: gzipped tar (Unix/macOS) and zip (Windows, and some
// package-manager tarballs). Every entry is checked against the
// destination directory before being written, rejecting path traversal
// and symlink escapes.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Type identifies a supported archive format.
type Type string

const (
	TarGz Type = "tar.gz"
	Zip   Type = "zip"
)

// DetectType infers the archive format from a URL or filename. It
// returns "" when the format can't be determined, so callers can fall
// back to a registry-declared format instead of guessing wrong.
func DetectType(urlOrFilename string) Type {
	name := strings.ToLower(filepath.Base(urlOrFilename))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return TarGz
	case strings.HasSuffix(name, ".zip"):
		return Zip
	default:
		return ""
	}
}

// Extract unpacks r (an archive of the given type) into destDir, which
// must already exist.
func Extract(t Type, r io.Reader, destDir string) error {
	switch t {
	case TarGz:
		return extractTarGz(r, destDir)
	case Zip:
		return extractZip(r, destDir)
	default:
		return fmt.Errorf("unsupported archive type: %s", t)
	}
}

func extractTarGz(r io.Reader, destDir string) error {
	slog.Debug("extracting tar.gz archive", "dest", destDir)

	gr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", err)
		}

		target := filepath.Join(destDir, hdr.Name)
		if !isInsideDir(destDir, target) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			linkTarget := filepath.Join(filepath.Dir(target), hdr.Linkname)
			if !isInsideDir(destDir, linkTarget) {
				return fmt.Errorf("symlink escapes destination: %s -> %s", hdr.Name, hdr.Linkname)
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		}
	}
	return nil
}

func extractZip(r io.Reader, destDir string) error {
	slog.Debug("extracting zip archive", "dest", destDir)

	ra, size, err := asReaderAt(r)
	if err != nil {
		return fmt.Errorf("zip extraction: %w", err)
	}

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return fmt.Errorf("creating zip reader: %w", err)
	}

	for _, f := range zr.File {
		if isOSMetadataPath(f.Name) {
			continue
		}

		target := filepath.Join(destDir, f.Name)
		if !isInsideDir(destDir, target) {
			return fmt.Errorf("archive entry escapes destination: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening archive entry %s: %w", f.Name, err)
		}
		err = extractFile(rc, target, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// asReaderAt adapts r to io.ReaderAt, as zip.NewReader requires random
// access. Downloads are always staged to a temp file first (see
// internal/fetch), so the common case is *os.File.
func asReaderAt(r io.Reader) (io.ReaderAt, int64, error) {
	switch v := r.(type) {
	case *os.File:
		info, err := v.Stat()
		if err != nil {
			return nil, 0, err
		}
		return v, info.Size(), nil
	case interface {
		io.ReaderAt
		io.Seeker
	}:
		size, err := v.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, err
		}
		if _, err := v.Seek(0, io.SeekStart); err != nil {
			return nil, 0, err
		}
		return v, size, nil
	default:
		return nil, 0, fmt.Errorf("zip extraction requires a seekable file, got %T", r)
	}
}

func extractFile(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(target), err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing file %s: %w", target, err)
	}
	return nil
}

// isOSMetadataPath skips __MACOSX/ entries that macOS zip tools inject.
func isOSMetadataPath(name string) bool {
	return name == "__MACOSX" || strings.HasPrefix(name, "__MACOSX/")
}

// isInsideDir reports whether target resolves to a location inside
// baseDir, rejecting absolute paths and ".." traversal.
func isInsideDir(baseDir, target string) bool {
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
