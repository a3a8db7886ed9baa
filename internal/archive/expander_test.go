package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, entries map[string]string, order []string) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	path := filepath.Join(t.TempDir(), "upload.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	return path
}

func TestExpandYieldsOnlyPDFMembers(t *testing.T) {
	t.Parallel()

	path := writeZip(t, map[string]string{
		"a.pdf":     "first",
		"b.txt":     "skip",
		"sub/c.pdf": "nested dir member",
		"inner.zip": "nested archives stay closed",
		"sub/d.PDF": "uppercase extension",
		"emptydir/": "",
	}, []string{"a.pdf", "b.txt", "sub/c.pdf", "inner.zip", "sub/d.PDF", "emptydir/"})

	entries, cleanup, err := Expand(path, t.TempDir())
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	defer cleanup()

	if len(entries) != 3 {
		t.Fatalf("expected 3 pdf entries, got %d: %+v", len(entries), entries)
	}
	wantNames := []string{"a.pdf", "c.pdf", "d.PDF"}
	for i, e := range entries {
		if e.Name != wantNames[i] {
			t.Fatalf("entry %d = %q, want %q", i, e.Name, wantNames[i])
		}
		if e.Err != nil {
			t.Fatalf("entry %q has error: %v", e.Name, e.Err)
		}
		if _, err := os.Stat(e.Path); err != nil {
			t.Fatalf("entry %q not extracted: %v", e.Name, err)
		}
	}

	data, err := os.ReadFile(entries[1].Path)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(data) != "nested dir member" {
		t.Fatalf("entry content = %q", data)
	}
}

func TestExpandCleanupReleasesExtraction(t *testing.T) {
	t.Parallel()

	path := writeZip(t, map[string]string{"a.pdf": "x"}, []string{"a.pdf"})
	entries, cleanup, err := Expand(path, t.TempDir())
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}

	cleanup()
	if _, err := os.Stat(entries[0].Path); !os.IsNotExist(err) {
		t.Fatalf("extraction dir not released")
	}
}

func TestExpandCorruptContainer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.zip")
	if err := os.WriteFile(path, []byte("this is not a zip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, err := Expand(path, t.TempDir())
	var archiveErr *Error
	if !errors.As(err, &archiveErr) {
		t.Fatalf("expected archive Error, got %v", err)
	}
}

func TestIsContainer(t *testing.T) {
	t.Parallel()

	if !IsContainer("facturas.ZIP") {
		t.Fatalf("uppercase zip extension not recognized")
	}
	if IsContainer("doc.pdf") || IsContainer("archive.tar") {
		t.Fatalf("non-zip recognized as container")
	}
}
