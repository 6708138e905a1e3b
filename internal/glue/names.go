package glue

import (
	"strings"
	"unicode"
)

var legalSuffixes = map[string]bool{
	"co":           true,
	"company":      true,
	"corp":         true,
	"corporation":  true,
	"inc":          true,
	"incorporated": true,
	"llc":          true,
	"lp":           true,
	"ltd":          true,
}

// normalizeName folds a reported name into its match form: lowercase,
// punctuation to spaces, whitespace collapsed, trailing legal suffixes
// dropped. "Idaho Power Co" and "IDAHO POWER COMPANY" both come out
// "idaho power".
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	fields := strings.Fields(b.String())
	for len(fields) > 1 && legalSuffixes[fields[len(fields)-1]] {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}
