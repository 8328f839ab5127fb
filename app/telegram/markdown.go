package telegram

import (
	"strings"
	"unicode/utf8"
)

// MaxDescriptionLength bounds the description block of a message, in runes.
const MaxDescriptionLength = 800

const ellipsis = "…"

const reservedChars = "_*[]()~`>#+-=|{}.!"

func isReserved(r rune) bool {
	return strings.ContainsRune(reservedChars, r)
}

// EscapeMarkdown escapes MarkdownV2 reserved characters with a single
// backslash. A reserved character that is already escaped is left as is, so
// applying it twice gives the same result as applying it once. A trailing
// unpaired backslash is dropped, since it would escape whatever markup the
// result is embedded in.
func EscapeMarkdown(text string) string {
	if text == "" {
		return ""
	}

	runes := []rune(text)
	out := make([]rune, 0, len(runes)+len(runes)/4)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) && isReserved(runes[i+1]) {
			out = append(out, r, runes[i+1])
			i++
			continue
		}

		if isReserved(r) {
			out = append(out, '\\')
		}
		out = append(out, r)
	}

	return string(dropOrphanBackslash(out))
}

func dropOrphanBackslash(runes []rune) []rune {
	trailing := 0
	for i := len(runes) - 1; i >= 0 && runes[i] == '\\'; i-- {
		trailing++
	}
	if trailing%2 == 1 {
		return runes[:len(runes)-1]
	}
	return runes
}

// Truncate cuts text to at most maxLen runes, the last one being an ellipsis.
// A backslash orphaned by the cut is dropped so the result stays valid
// MarkdownV2.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}

	runes := dropOrphanBackslash([]rune(text)[:maxLen-1])

	return string(runes) + ellipsis
}
