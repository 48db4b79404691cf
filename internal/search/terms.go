package search

import (
	"regexp"
	"strings"
)

var termSeparators = regexp.MustCompile(`[,\s]+`)

// specialCodeSuffix marks terms that reference per-each article codes.
const specialCodeSuffix = "EA"

// TermReport is the result of normalizing raw free-text term input. Every
// token from the input lands in exactly one of Terms or Duplicates.
type TermReport struct {
	Terms           []string `json:"terms"`
	Duplicates      []string `json:"duplicates"`
	DuplicateCount  int      `json:"duplicateCount"`
	ContainsEACodes bool     `json:"containsEaCodes"`
}

// ParseTerms splits raw input on runs of whitespace and commas, trims each
// fragment, and deduplicates by exact (case-sensitive) match while
// preserving first-occurrence order. Fragments whose case-insensitive form
// ends in "EA" set the special-code flag.
func ParseTerms(raw string) TermReport {
	report := TermReport{
		Terms:      []string{},
		Duplicates: []string{},
	}
	seen := make(map[string]struct{})

	for _, part := range termSeparators.Split(strings.TrimSpace(raw), -1) {
		term := strings.TrimSpace(part)
		if term == "" {
			continue
		}
		if strings.HasSuffix(strings.ToUpper(term), specialCodeSuffix) {
			report.ContainsEACodes = true
		}
		if _, dup := seen[term]; dup {
			report.Duplicates = append(report.Duplicates, term)
			continue
		}
		seen[term] = struct{}{}
		report.Terms = append(report.Terms, term)
	}

	report.DuplicateCount = len(report.Duplicates)
	return report
}
