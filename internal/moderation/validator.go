package moderation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMatchBytes bounds how much of a message the rules evaluate. The
// platform caps messages at 4000 characters, at most 16000 bytes of UTF-8,
// so no deliverable message is ever cut.
const MaxMatchBytes = 16 << 10

// ValidateMessage rejects payloads there is nothing to classify in. Size is
// never a reason to skip moderation; see PrepareText.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("moderation: message text is empty")
	}
	return nil
}

// PrepareText returns the text the rules evaluate: invalid UTF-8 sequences
// are replaced and the result is cut to MaxMatchBytes on a rune boundary.
func PrepareText(text string) string {
	text = strings.ToValidUTF8(text, "�")
	if len(text) <= MaxMatchBytes {
		return text
	}
	cut := MaxMatchBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
