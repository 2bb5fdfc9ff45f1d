package logutil

import (
	"strings"
	"unicode"
)

// MaxLogValueLen caps how much of a user-supplied value ends up in a log
// entry. Longer values are cut and suffixed with "...".
const MaxLogValueLen = 256

// SanitizeForLog flattens user-provided strings (tokens, device names,
// terminal input) onto one line so they cannot forge extra log entries.
// Line breaks and tabs become spaces, other control characters are dropped.
func SanitizeForLog(s string) string {
	out := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if len(out) > MaxLogValueLen {
		cut := MaxLogValueLen
		for cut > 0 && !utf8Start(out[cut]) {
			cut--
		}
		out = out[:cut] + "..."
	}
	return out
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
