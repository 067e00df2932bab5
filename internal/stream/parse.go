package stream

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// dataPrefix marks payload lines in the upstream alt=sse format.
const dataPrefix = "data: "

// finalPunctuation holds every character a finished reply may end with.
// Formal text stopping on anything else is treated as truncated output.
var finalPunctuation = map[rune]bool{
	'.': true, '?': true, '!': true,
	'。': true, '？': true, '！': true,
	'}': true, ']': true, ')': true,
	'"': true, '\'': true, '”': true, '’': true,
	'`': true, '\n': true,
}

func isDataLine(line string) bool {
	return strings.HasPrefix(line, dataPrefix)
}

// isBlockedLine reports whether the upstream flagged blocked content
// anywhere on the line.
func isBlockedLine(line string) bool {
	return strings.Contains(line, "blockReason")
}

// finishReason extracts candidates.0.finishReason from a line, or ""
// when the line carries none. The substring probe keeps the JSON parse
// off the common no-finish path.
func finishReason(line string) string {
	if !strings.Contains(line, "finishReason") {
		return ""
	}
	i := strings.IndexByte(line, '{')
	if i == -1 {
		return ""
	}
	return gjson.Get(line[i:], "candidates.0.finishReason").String()
}

// parseChunk extracts the first candidate part's text and thought flag
// from a data line. Lines without a parseable part yield zero values.
func parseChunk(line string) (text string, thought bool) {
	i := strings.IndexByte(line, '{')
	if i == -1 {
		return "", false
	}
	part := gjson.Get(line[i:], "candidates.0.content.parts.0")
	if !part.Exists() {
		return "", false
	}
	return part.Get("text").String(), part.Get("thought").Bool()
}

// endsWithFinalPunctuation reports whether text, ignoring surrounding
// whitespace, ends with a character in finalPunctuation. Whitespace-only
// text does not.
func endsWithFinalPunctuation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return finalPunctuation[last]
}
