package oracle

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTranscript lowercases, NFKC-normalizes, and collapses whitespace so
// keyword matching and word counting behave the same regardless of how the
// transcript was captured.
func NormalizeTranscript(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// WordCount counts whitespace-delimited tokens after normalization.
func WordCount(s string) int {
	return len(strings.Fields(norm.NFKC.String(s)))
}
