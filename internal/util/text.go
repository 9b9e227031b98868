package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// NormalizeDocumentText cleans text pulled out of uploaded files: invalid
// UTF-8 and control characters are dropped, runs of blank lines collapse to
// one and trailing spaces are trimmed from every line.
func NormalizeDocumentText(text string) string {
	text = SanitizePostgresText(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRightFunc(l, unicode.IsSpace)
		if l == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Preview returns the first n runes of text followed by "..." when text is
// longer than n.
func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

// Prefix returns the first n runes of text.
func Prefix(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
