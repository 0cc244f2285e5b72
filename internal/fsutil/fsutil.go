// Package fsutil wraps the filesystem operations used to stage downloads in
// temporary files before they are renamed into place.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
)

// OSUtil operates on the local filesystem.
type OSUtil struct {
	// Perm is the mode of newly allocated files.
	// Default: 0644
	Perm os.FileMode
}

// TempName returns a temporary path next to dest, so the final rename stays
// on one filesystem.
func (u OSUtil) TempName(dest string) string {
	return dest + "." + uuid.NewString()[:8]
}

// Allocate creates path with exactly size bytes. A partially created file
// is removed on failure.
func (u OSUtil) Allocate(path string, size int64) error {
	perm := u.Perm
	if perm == 0 {
		perm = 0644
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("fsutil: create %s: %w", path, err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("fsutil: allocate %d bytes for %s: %w", size, path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("fsutil: close %s: %w", path, err)
	}
	return nil
}

// OpenForWrite opens an existing file for positional writes.
func (u OSUtil) OpenForWrite(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("fsutil: open %s: %w", path, err)
	}
	return f, nil
}

// Rename moves src to dest, replacing dest if it exists.
func (u OSUtil) Rename(src, dest string) error {
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("fsutil: rename %s: %w", src, err)
	}
	return nil
}

// Remove deletes path. A missing file is not an error.
func (u OSUtil) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fsutil: remove %s: %w", path, err)
	}
	return nil
}
