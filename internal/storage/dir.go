// Package storage implements the destination namespace: a flat directory of
// files keyed by base name, plus the collision-free name allocator used before
// every write or move into it.
package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Dir is a flat file store rooted at a single directory. Entry keys are base
// names; subdirectories may exist transiently (archive extraction) but are not
// part of the namespace.
type Dir struct {
	root string
}

// NewDir creates the root directory if needed and returns the store.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string { return d.root }

// Path maps a namespace key to a path inside the root. The key is reduced to
// its base name so callers cannot traverse out of the store.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, filepath.Base(name))
}

// List returns the names of regular files in the namespace, sorted.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Names returns the namespace as a set, the snapshot shape AllocateName takes.
func (d *Dir) Names() (map[string]struct{}, error) {
	names, err := d.List()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

// Contains reports whether name exists as a regular file.
func (d *Dir) Contains(name string) bool {
	st, err := os.Stat(d.Path(name))
	return err == nil && st.Mode().IsRegular()
}

// Write streams r into the namespace under name, creating or truncating.
func (d *Dir) Write(name string, r io.Reader) (int64, error) {
	f, err := os.Create(d.Path(name))
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", name, err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return n, fmt.Errorf("sync %s: %w", name, err)
	}
	return n, nil
}

// Open opens a stored file for reading.
func (d *Dir) Open(name string) (*os.File, error) {
	f, err := os.Open(d.Path(name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Rename moves oldName to newName within the namespace.
func (d *Dir) Rename(oldName, newName string) error {
	if err := os.Rename(d.Path(oldName), d.Path(newName)); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldName, newName, err)
	}
	return nil
}

// MoveIn moves an outside file (e.g. an archive extraction) into the
// namespace under name.
func (d *Dir) MoveIn(srcPath, name string) error {
	dst := d.Path(name)
	if err := os.Rename(srcPath, dst); err == nil {
		return nil
	}
	// Cross-device fallback: copy then remove.
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("move %s: %w", srcPath, err)
	}
	defer src.Close()
	if _, err := d.Write(name, src); err != nil {
		return err
	}
	return os.Remove(srcPath)
}

// Delete removes one stored file.
func (d *Dir) Delete(name string) error {
	if err := os.Remove(d.Path(name)); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// DeleteAll removes every entry under the root, files and leftover extraction
// directories alike.
func (d *Dir) DeleteAll() error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("list %s: %w", d.root, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.root, e.Name())); err != nil {
			return fmt.Errorf("delete %s: %w", e.Name(), err)
		}
	}
	return nil
}

// SweepOlderThan deletes stored files whose modification time is older than
// age, returning how many were removed.
func (d *Dir) SweepOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", d.root, err)
	}
	cutoff := time.Now().Add(-age)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(d.root, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// ZipTo streams every stored PDF into w as a flat zip archive.
func (d *Dir) ZipTo(w io.Writer) error {
	names, err := d.List()
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	for _, name := range names {
		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			continue
		}
		f, err := d.Open(name)
		if err != nil {
			return err
		}
		entry, err := zw.Create(name)
		if err != nil {
			f.Close()
			return fmt.Errorf("zip entry %s: %w", name, err)
		}
		if _, err := io.Copy(entry, f); err != nil {
			f.Close()
			return fmt.Errorf("zip copy %s: %w", name, err)
		}
		f.Close()
	}
	return zw.Close()
}
