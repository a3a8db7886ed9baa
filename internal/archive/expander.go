// Package archive expands uploaded zip containers into their PDF members.
// Expansion is single-level: archives nested inside a container are discarded
// like any other non-PDF entry.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one PDF member extracted from a container. Name is the member's
// base name; Path points at the extracted bytes under the expansion's temp
// directory. Err is set when this member could not be extracted; such entries
// are reported individually, never as a container failure.
type Entry struct {
	Name string
	Path string
	Err  error
}

// Error reports a container that could not be opened at all.
type Error struct {
	Container string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Container, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsContainer reports whether name looks like a supported archive by
// extension.
func IsContainer(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// Expand extracts every PDF member of the zip at path into a fresh temp
// directory under tempParent and returns the entries in container enumeration
// order. cleanup releases the temp directory and is non-nil whenever err is
// nil; callers must invoke it whether or not the entries were processed
// successfully.
func Expand(path, tempParent string) (entries []Entry, cleanup func(), err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, &Error{Container: filepath.Base(path), Err: err}
	}
	defer zr.Close()

	tmpDir, err := os.MkdirTemp(tempParent, "extract-*")
	if err != nil {
		return nil, nil, fmt.Errorf("extraction dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(tmpDir) }

	for i, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(member.Name)
		if !strings.EqualFold(filepath.Ext(base), ".pdf") {
			continue
		}

		// Index prefix keeps same-named members from distinct subfolders
		// apart on disk; the namespace name stays the member's base name.
		outPath := filepath.Join(tmpDir, fmt.Sprintf("%d_%s", i, base))
		if err := extractMember(member, outPath); err != nil {
			entries = append(entries, Entry{Name: base, Err: err})
			continue
		}
		entries = append(entries, Entry{Name: base, Path: outPath})
	}

	return entries, cleanup, nil
}

func extractMember(member *zip.File, outPath string) error {
	rc, err := member.Open()
	if err != nil {
		return fmt.Errorf("open member %s: %w", member.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("extract member %s: %w", member.Name, err)
	}
	return nil
}
