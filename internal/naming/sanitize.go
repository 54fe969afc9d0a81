package naming

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxStemLength keeps stems well under the 255-byte name limit of
// common filesystems, leaving room for dedup suffixes and extensions.
const DefaultMaxStemLength = 120

const fallbackStem = "unnamed"

const illegalChars = `<>:"/\|?*`

// windowsReserved are device names that cannot be used as a file stem on
// Windows regardless of extension.
var windowsReserved = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// Sanitize turns an identifier into a filesystem-safe stem: NFKC-normalized,
// illegal and control characters removed, whitespace runs collapsed to "_",
// leading and trailing dots trimmed, and capped at maxLen bytes.
func Sanitize(value string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxStemLength
	}
	value = norm.NFKC.String(value)

	var b strings.Builder
	pendingSpace := false
	for _, r := range value {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r), strings.ContainsRune(illegalChars, r), r == utf8.RuneError:
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSpace = false
		b.WriteRune(r)
	}

	stem := strings.Trim(b.String(), ". _")
	stem = truncate(stem, maxLen)
	stem = strings.TrimRight(stem, ". _")
	if stem == "" {
		return fallbackStem
	}
	if windowsReserved[strings.ToLower(stem)] {
		stem = "_" + stem
	}
	return stem
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
