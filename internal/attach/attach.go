// Package attach stores card attachment files on disk.
package attach

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Store keeps attachment files in a single flat directory. Stored names
// are prefixed with a short hash of the owning card's title so that two
// cards can attach files with the same name.
type Store struct {
	dir string
}

// NewStore creates the attachment directory if needed and returns a
// store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save stores the contents of r as an attachment for the card with the
// given title and returns the stored file name.
func (s *Store) Save(title, originalName string, r io.Reader) (string, error) {
	name := titlePrefix(title) + "_" + filepath.Base(originalName)
	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create attachment %s: %w", name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("failed to write attachment %s: %w", name, err)
	}
	return name, nil
}

// Path returns the on-disk location of a stored attachment.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Remove deletes a stored attachment. Removing an empty name or an
// already-missing file is not an error.
func (s *Store) Remove(name string) error {
	if name == "" {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove attachment %s: %w", name, err)
	}
	return nil
}

func titlePrefix(title string) string {
	sum := sha256.Sum256([]byte(title))
	return hex.EncodeToString(sum[:])[:12]
}
