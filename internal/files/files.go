// Package files manages appeal attachments on local disk.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("files: mkdir %s: %w", abs, err)
	}
	return &Store{dir: abs}, nil
}

func (s *Store) Dir() string { return s.dir }

// NewPath reserves a unique relative path for an upload, keeping the
// original extension.
func (s *Store) NewPath(origName string) string {
	ext := strings.ToLower(filepath.Ext(origName))
	if len(ext) > 10 {
		ext = ""
	}
	return uuid.NewString() + ext
}

// Abs resolves a stored relative path. ".." segments cannot climb above
// the attachment dir.
func (s *Store) Abs(rel string) string {
	return filepath.Join(s.dir, filepath.Clean("/"+rel))
}

// Remove deletes the attachments. Missing files are ignored; other
// failures are joined.
func (s *Store) Remove(rels ...string) error {
	var errs []error
	for _, rel := range rels {
		if rel == "" {
			continue
		}
		if err := os.Remove(s.Abs(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
