// Package archive packages the whole collection directory as a zip file
// and restores it from one.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DatabaseName is the file every valid collection archive must contain.
const DatabaseName = "cards.db"

// ErrInvalidArchive is returned by Import when the archive does not look
// like an exported collection.
var ErrInvalidArchive = errors.New("archive: missing card database")

// skipDirs are top-level directories that never belong in an export:
// the git backup history and log files.
var skipDirs = map[string]bool{".git": true, "logs": true}

// Export writes the collection directory as a zip archive to w. The
// database must not be written to while the export runs.
func Export(collectionDir string, w io.Writer) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(collectionDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(collectionDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if skipDirs[rel] {
				return fs.SkipDir
			}
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to export collection: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// Import extracts a collection archive over the collection directory,
// replacing existing files. The caller must close the database before
// importing and reopen it afterwards. The archive is validated to
// contain the card database before anything is written.
func Import(zipPath, collectionDir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	found := false
	for _, f := range zr.File {
		if f.Name == DatabaseName {
			found = true
			break
		}
	}
	if !found {
		return ErrInvalidArchive
	}

	for _, f := range zr.File {
		if err := extractFile(f, collectionDir); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

// extractFile writes a single archive entry, refusing paths that would
// escape the collection directory.
func extractFile(f *zip.File, collectionDir string) error {
	dst := filepath.Join(collectionDir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(dst, filepath.Clean(collectionDir)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal path %q", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(dst, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}
