package scan

import (
	"bytes"
	"testing"
)

func TestFirstPageTextRejectsNonPDF(t *testing.T) {
	t.Parallel()

	data := []byte("plain text pretending to be a pdf")
	if _, err := FirstPageText(bytes.NewReader(data), int64(len(data))); err == nil {
		t.Fatalf("expected error for non-pdf bytes")
	}
}

func TestFirstPageTextFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := FirstPageTextFile("/does/not/exist.pdf"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
