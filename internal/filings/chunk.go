package filings

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// Chunk splits text into pieces of at most size bytes, preferring paragraph
// then sentence boundaries. Consecutive chunks share up to overlap bytes of
// context.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	text = strings.TrimSpace(text)
	var out []string
	for len(text) > 0 {
		if len(text) <= size {
			out = append(out, text)
			break
		}
		cut := splitPoint(text, size)
		piece := strings.TrimSpace(text[:cut])
		if piece != "" {
			out = append(out, piece)
		}
		next := cut - overlap
		if next <= 0 || overlap == 0 {
			next = cut
		}
		// never restart inside a multi-byte rune
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		text = strings.TrimSpace(text[next:])
	}
	return out
}

// splitPoint picks the last good boundary at or before size, falling back
// to a hard cut on a rune boundary.
func splitPoint(text string, size int) int {
	window := text[:size]
	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if i := strings.LastIndex(window, sep); i > size/2 {
			return i + len(sep)
		}
	}
	cut := size
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		cut = size
	}
	return cut
}
