package manager

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxTextRunes bounds the analyzed text length.
const MaxTextRunes = 10000

// NormalizeText prepares input for caching and inference: control characters
// other than newline, tab and carriage return are dropped, the text is put in
// Unicode NFC form and surrounding whitespace is trimmed.
func NormalizeText(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(norm.NFC.String(s))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if n := utf8.RuneCountInString(s); n > MaxTextRunes {
		return "", fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidText, n, MaxTextRunes)
	}
	return s, nil
}
