// Package match decides the outcome for one document given its extracted
// tokens and the current contract map. The resolver is pure: it never touches
// file contents or the filesystem.
package match

import (
	"path/filepath"
	"strings"

	"facturasort/internal/contractmap"
)

// Status classifies a resolution result.
type Status string

const (
	// StatusRenamed means a candidate matched the contract map and the
	// document gets a new display name.
	StatusRenamed Status = "renamed"
	// StatusUnmatched means candidates were found but none is a map key.
	StatusUnmatched Status = "unmatched_candidates"
	// StatusNoCandidates means the text contained no 6-digit runs at all.
	StatusNoCandidates Status = "no_candidates"
)

// Outcome is the resolution for one document.
type Outcome struct {
	Status     Status
	Contract   string
	Location   string
	Candidates []string
	// TargetName is the desired display name. For non-matches it is the
	// original filename, unchanged.
	TargetName string
}

// forbiddenNameChars are stripped (not replaced) from composed display names.
const forbiddenNameChars = `\/*?:"<>|`

// SanitizeName removes filesystem-hostile characters from a display name.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenNameChars, r) {
			return -1
		}
		return r
	}, name)
}

// Resolve walks candidates in extraction order and takes the first one present
// in the map; ties between valid candidates are broken by that order alone.
// On a match the display name is "<location> - <invoice>.pdf", falling back to
// the original base name when no invoice number was extracted.
func Resolve(candidates []string, invoice, originalName string, m *contractmap.Map) Outcome {
	for _, contract := range candidates {
		location, ok := m.Location(contract)
		if !ok {
			continue
		}
		stem := invoice
		if stem == "" {
			stem = strings.TrimSuffix(originalName, filepath.Ext(originalName))
		}
		return Outcome{
			Status:     StatusRenamed,
			Contract:   contract,
			Location:   location,
			Candidates: candidates,
			TargetName: SanitizeName(location + " - " + stem + ".pdf"),
		}
	}

	status := StatusNoCandidates
	if len(candidates) > 0 {
		status = StatusUnmatched
	}
	return Outcome{
		Status:     status,
		Candidates: candidates,
		TargetName: originalName,
	}
}
