package scan

import (
	"regexp"
	"strings"
)

// contractPattern matches a standalone run of exactly 6 digits. Longer digit
// runs are not contract candidates.
var contractPattern = regexp.MustCompile(`\b\d{6}\b`)

// invoiceRules are tried in order over the whole text; the first rule with any
// match wins and its first match is the invoice number. The union of rules is
// never taken.
var invoiceRules = []struct {
	re    *regexp.Regexp
	group int
}{
	// "Factura", optional separator, 8+ digits
	{regexp.MustCompile(`(?i)Factura[\s:.#º°-]*(\d{8,})`), 1},
	// "N" (also Nº / No), optional separator, 8+ digits
	{regexp.MustCompile(`(?i)\bN[º°o]?[\s:.#-]*(\d{8,})`), 1},
	// standalone run of exactly 8 digits
	{regexp.MustCompile(`\b\d{8}\b`), 0},
	// standalone run of 9+ digits
	{regexp.MustCompile(`\b\d{9,}\b`), 0},
}

// invoiceFallback scans only the leading lines when no rule matched anywhere.
var invoiceFallback = regexp.MustCompile(`\b\d{8,}\b`)

const invoiceFallbackLines = 5

// ContractCandidates returns the distinct 6-digit runs in text, in order of
// first occurrence. Downstream matching depends on this order.
func ContractCandidates(text string) []string {
	if text == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, c := range contractPattern.FindAllString(text, -1) {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// InvoiceNumber returns the invoice-number candidate for text, or "" when none
// of the rules nor the leading-lines fallback produce a match.
func InvoiceNumber(text string) string {
	if text == "" {
		return ""
	}
	for _, rule := range invoiceRules {
		m := rule.re.FindStringSubmatch(text)
		if m != nil {
			return m[rule.group]
		}
	}

	lines := strings.SplitN(text, "\n", invoiceFallbackLines+1)
	if len(lines) > invoiceFallbackLines {
		lines = lines[:invoiceFallbackLines]
	}
	return invoiceFallback.FindString(strings.Join(lines, "\n"))
}

// Tokens bundles both extractions over one document's first-page text.
type Tokens struct {
	Contracts []string
	Invoice   string
}

// Extract runs both token families over text.
func Extract(text string) Tokens {
	return Tokens{
		Contracts: ContractCandidates(text),
		Invoice:   InvoiceNumber(text),
	}
}
