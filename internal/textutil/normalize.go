package textutil

import (
	"strings"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// Normalize lowercases via Unicode case folding and collapses runs of
// whitespace to single spaces, trimming the ends.
func Normalize(value string) string {
	folded := foldCaser.String(value)
	fields := strings.Fields(folded)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, " ")
}
