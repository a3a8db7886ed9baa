// Package scan extracts the identifying tokens of an invoice PDF: 6-digit
// contract-number candidates and an invoice-number candidate, both taken from
// the plain text of the first page.
package scan

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// FirstPageText extracts the plain text of page one. A PDF with no pages
// yields an empty string, not an error. Text is NFC-normalized so that regex
// scanning is not defeated by combining characters in extracted glyphs.
// The pdf reader panics on some malformed files; that surfaces as an error
// here, never as a crash.
func FirstPageText(r io.ReaderAt, size int64) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	if reader.NumPage() < 1 {
		return "", nil
	}
	page := reader.Page(1)
	if page.V.IsNull() {
		return "", nil
	}

	rows, err := page.GetTextByRow()
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, word := range row.Content {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(word.S)
		}
		sb.WriteString("\n")
	}
	return norm.NFC.String(sb.String()), nil
}

// FirstPageTextFile is FirstPageText over a file on disk.
func FirstPageTextFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return FirstPageText(f, st.Size())
}
