package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRuns = regexp.MustCompile(`\s+`)

// NormalizeSpace collapses every run of whitespace to a single space
// and trims the ends.
func NormalizeSpace(s string) string {
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}

// Truncate caps a status string at max runes, appending "..." when it
// had to cut. Statuses scraped out of free-form HTML can run long.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// ContainsAny reports whether s contains at least one of the keywords.
func ContainsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

var dateLine = regexp.MustCompile(`\d{4}[/-]\d{1,2}[/-]\d{1,2}[^\n]*`)

// FirstDateLine returns the first line of text opening with a
// yyyy/mm/dd or yyyy-mm-dd date, or "" when none exists. Status rows
// on the carrier pages modeled here lead with a timestamp.
func FirstDateLine(s string) string {
	return strings.TrimSpace(dateLine.FindString(s))
}

var englishDateLine = regexp.MustCompile(`(?i)\d{1,2}\s+(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\w*\s+\d{4}[^\n]*`)

// FirstEnglishDateLine is FirstDateLine for "2 Jan 2026"-style dates.
func FirstEnglishDateLine(s string) string {
	return strings.TrimSpace(englishDateLine.FindString(s))
}
