package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate upper-cases and trims a plate read. Inner characters are kept
// as the camera reported them.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// FilenamePlate reduces a plate to its letters and digits for use in object keys.
func FilenamePlate(plate string) string {
	var b strings.Builder
	for _, r := range plate {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return "UNKNOWN"
	}
	return b.String()
}
