package room

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const MaxNameLength = 32

// NormalizeName trims, NFC-normalises and truncates a display name so that the same
// name typed on two devices compares equal. Empty names become fallback.
func NormalizeName(name, fallback string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	if r := []rune(name); len(r) > MaxNameLength {
		name = strings.TrimSpace(string(r[:MaxNameLength]))
	}
	if name == "" {
		return fallback
	}
	return name
}
