package storage

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestAllocateNameFreeNameUnchanged(t *testing.T) {
	t.Parallel()

	got := AllocateName("A.pdf", map[string]struct{}{}, time.Unix(1700000000, 0))
	if got != "A.pdf" {
		t.Fatalf("allocated = %q, want unchanged", got)
	}
}

func TestAllocateNameCollisionGetsTimestampPrefix(t *testing.T) {
	t.Parallel()

	taken := map[string]struct{}{"A.pdf": {}}
	got := AllocateName("A.pdf", taken, time.Unix(1700000000, 0))
	if got == "A.pdf" {
		t.Fatalf("allocated name collides with snapshot")
	}
	if got != "1700000000_A.pdf" {
		t.Fatalf("allocated = %q", got)
	}
	if _, ok := taken[got]; ok {
		t.Fatalf("allocated name %q already in snapshot", got)
	}
}

func TestAllocateNameTimestampCollisionAdvances(t *testing.T) {
	t.Parallel()

	taken := map[string]struct{}{
		"a.pdf":            {},
		"1700000000_a.pdf": {},
		"1700000001_a.pdf": {},
	}
	got := AllocateName("a.pdf", taken, time.Unix(1700000000, 0))
	if got != "1700000002_a.pdf" {
		t.Fatalf("allocated = %q", got)
	}
	if _, ok := taken[got]; ok {
		t.Fatalf("allocated name %q already in snapshot", got)
	}
}

func TestDirWriteListRenameDelete(t *testing.T) {
	t.Parallel()

	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}

	if _, err := d.Write("b.pdf", strings.NewReader("two")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := d.Write("a.pdf", strings.NewReader("one")); err != nil {
		t.Fatalf("write: %v", err)
	}

	names, err := d.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"a.pdf", "b.pdf"}) {
		t.Fatalf("list = %v", names)
	}

	if err := d.Rename("a.pdf", "c.pdf"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if d.Contains("a.pdf") || !d.Contains("c.pdf") {
		t.Fatalf("rename did not take effect")
	}

	if err := d.Delete("b.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if d.Contains("b.pdf") {
		t.Fatalf("b.pdf still present after delete")
	}
}

func TestDirPathIgnoresTraversal(t *testing.T) {
	t.Parallel()

	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	got := d.Path("../../etc/passwd")
	if filepath.Dir(got) != d.Root() || filepath.Base(got) != "passwd" {
		t.Fatalf("path escaped root: %q", got)
	}
}

func TestDirMoveInFromOutside(t *testing.T) {
	t.Parallel()

	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	src := filepath.Join(t.TempDir(), "incoming.pdf")
	if err := os.WriteFile(src, []byte("data"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	if err := d.MoveIn(src, "final.pdf"); err != nil {
		t.Fatalf("move in: %v", err)
	}
	if !d.Contains("final.pdf") {
		t.Fatalf("moved file missing")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source still present after move")
	}
}

func TestDirSweepOlderThan(t *testing.T) {
	t.Parallel()

	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if _, err := d.Write("old.pdf", strings.NewReader("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := d.Write("new.pdf", strings.NewReader("y")); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(d.Path("old.pdf"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := d.SweepOlderThan(time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 || d.Contains("old.pdf") || !d.Contains("new.pdf") {
		t.Fatalf("sweep removed=%d old=%v new=%v", removed, d.Contains("old.pdf"), d.Contains("new.pdf"))
	}
}

func TestDirZipToOnlyPDFs(t *testing.T) {
	t.Parallel()

	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	if _, err := d.Write("a.pdf", strings.NewReader("pdf bytes")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := d.Write("notes.txt", strings.NewReader("skip me")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var buf bytes.Buffer
	if err := d.ZipTo(&buf); err != nil {
		t.Fatalf("zip: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read zip: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "a.pdf" {
		t.Fatalf("zip entries = %v", zr.File)
	}
}
