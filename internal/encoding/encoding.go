// Package encoding repairs text damaged by a double-encoding defect: bytes
// that were originally UTF-8 but got decoded as a Latin-1-like single-byte
// charset and re-encoded as UTF-8. "é" arrives as "Ã©", "ñ" as "Ã±".
package encoding

import (
	"strings"
	"unicode/utf8"
)

// Repair attempts to invert a single round of double-encoding. Each rune's
// code unit is reinterpreted as a raw byte (value modulo 256) and the byte
// sequence is decoded as UTF-8. The repair is kept only when it is valid
// UTF-8, introduces no replacement characters, and strictly reduces the
// number of code points in the 128-255 artifact range. Anything ambiguous
// returns the input unchanged; legitimately accented text stays as it is.
func Repair(s string) string {
	if artifactCount(s) == 0 {
		return s
	}

	b := make([]byte, 0, len(s))
	for _, r := range s {
		b = append(b, byte(r))
	}

	if !utf8.Valid(b) {
		return s
	}

	repaired := string(b)
	if strings.ContainsRune(repaired, utf8.RuneError) {
		return s
	}
	if artifactCount(repaired) >= artifactCount(s) {
		return s
	}

	return repaired
}

// artifactCount counts runes in the range typical of mojibake lead and
// continuation characters.
func artifactCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x80 && r <= 0xFF {
			n++
		}
	}
	return n
}
