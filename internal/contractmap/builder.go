package contractmap

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetName is the workbook sheet holding third-party owner rows. The sheet
// must be present under exactly this name.
const SheetName = "Dueños 3rd Party"

// referenceHeader is matched case-insensitively as a substring of a header cell.
const referenceHeader = "referencia"

// referencePattern is the sole authority for what counts as a valid contract
// reference: the word "Contrato", optional whitespace, the contract digits, a
// slash, then the location up to the next slash or end of cell.
var referencePattern = regexp.MustCompile(`(?i)Contrato\s*(\d+)/([^/]+)`)

// SchemaError reports a spreadsheet whose layout cannot be used: the owners
// sheet is missing or no reference column exists.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "spreadsheet schema: " + e.Reason
}

// Build parses a spreadsheet stream into a fresh Map. Rows whose reference
// cell does not match the contract pattern are skipped; a repeated contract
// number keeps the last row's location.
func Build(r io.Reader) (*Map, int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return nil, 0, &SchemaError{Reason: fmt.Sprintf("sheet %q not found", SheetName)}
	}
	if len(rows) == 0 {
		return nil, 0, &SchemaError{Reason: fmt.Sprintf("column %q not found in sheet %q", referenceHeader, SheetName)}
	}

	refCol := -1
	for i, cell := range rows[0] {
		if strings.Contains(strings.ToLower(cell), referenceHeader) {
			refCol = i
			break
		}
	}
	if refCol < 0 {
		return nil, 0, &SchemaError{Reason: fmt.Sprintf("column %q not found in sheet %q", referenceHeader, SheetName)}
	}

	entries := make(map[string]string)
	count := 0
	for _, row := range rows[1:] {
		if refCol >= len(row) {
			continue
		}
		m := referencePattern.FindStringSubmatch(row[refCol])
		if m == nil {
			continue
		}
		contract := strings.TrimSpace(m[1])
		location := strings.TrimSpace(m[2])
		entries[contract] = location
		count++
	}

	return NewMap(entries), count, nil
}
