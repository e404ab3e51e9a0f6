package core

import "strings"

// Normalize keeps only the ASCII digits of raw. Two numbers are the same
// identity iff their normalized forms are equal. There is no country code or
// leading zero handling, so "07700 900000" and "447700900000" stay distinct.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
