package match

import (
	"testing"

	"facturasort/internal/contractmap"
)

func mapOf(entries map[string]string) *contractmap.Map {
	return contractmap.NewMap(entries)
}

func TestResolveMatchWithInvoiceNumber(t *testing.T) {
	t.Parallel()

	m := mapOf(map[string]string{"123456": "SiteA"})
	out := Resolve([]string{"123456"}, "20240001", "scan001.pdf", m)

	if out.Status != StatusRenamed {
		t.Fatalf("status = %q, want renamed", out.Status)
	}
	if out.Contract != "123456" || out.Location != "SiteA" {
		t.Fatalf("contract/location = %q/%q", out.Contract, out.Location)
	}
	if out.TargetName != "SiteA - 20240001.pdf" {
		t.Fatalf("target = %q", out.TargetName)
	}
}

func TestResolveMatchFallsBackToOriginalBaseName(t *testing.T) {
	t.Parallel()

	m := mapOf(map[string]string{"123456": "SiteA"})
	out := Resolve([]string{"123456"}, "", "scan001.pdf", m)

	if out.TargetName != "SiteA - scan001.pdf" {
		t.Fatalf("target = %q", out.TargetName)
	}
}

func TestResolveFirstCandidateInExtractionOrderWins(t *testing.T) {
	t.Parallel()

	// Both candidates are map keys; extraction order, not any ranking,
	// breaks the tie.
	m := mapOf(map[string]string{"111111": "First", "222222": "Second"})
	out := Resolve([]string{"222222", "111111"}, "", "x.pdf", m)

	if out.Contract != "222222" || out.Location != "Second" {
		t.Fatalf("expected first-listed candidate to win, got %q/%q", out.Contract, out.Location)
	}
}

func TestResolveSkipsUnknownCandidatesInOrder(t *testing.T) {
	t.Parallel()

	// The first candidate is not in the map; the second is and must match.
	m := mapOf(map[string]string{"222222": "SiteB"})
	out := Resolve([]string{"111111", "222222"}, "", "x.pdf", m)

	if out.Status != StatusRenamed || out.Contract != "222222" {
		t.Fatalf("expected match on second candidate, got %q (%s)", out.Contract, out.Status)
	}
}

func TestResolveUnmatchedCandidates(t *testing.T) {
	t.Parallel()

	m := mapOf(map[string]string{"999999": "Elsewhere"})
	out := Resolve([]string{"111111", "222222"}, "", "orig.pdf", m)

	if out.Status != StatusUnmatched {
		t.Fatalf("status = %q, want unmatched_candidates", out.Status)
	}
	if len(out.Candidates) != 2 {
		t.Fatalf("candidates = %v", out.Candidates)
	}
	if out.TargetName != "orig.pdf" {
		t.Fatalf("target should stay the original name, got %q", out.TargetName)
	}
}

func TestResolveNoCandidates(t *testing.T) {
	t.Parallel()

	out := Resolve(nil, "", "orig.pdf", mapOf(nil))
	if out.Status != StatusNoCandidates {
		t.Fatalf("status = %q, want no_candidates", out.Status)
	}
	if out.TargetName != "orig.pdf" {
		t.Fatalf("target = %q", out.TargetName)
	}
}

func TestResolveStripsForbiddenCharacters(t *testing.T) {
	t.Parallel()

	m := mapOf(map[string]string{"123456": `Site "A/B"?`})
	out := Resolve([]string{"123456"}, "20240001", "x.pdf", m)

	if out.TargetName != "Site AB - 20240001.pdf" {
		t.Fatalf("target = %q", out.TargetName)
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()

	got := SanitizeName(`a\b/c*d?e:f"g<h>i|j.pdf`)
	if got != "abcdefghij.pdf" {
		t.Fatalf("sanitized = %q", got)
	}
}
