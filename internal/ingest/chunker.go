package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunking defaults, in characters. Overlap carries trailing context into the
// next chunk so sentences near a boundary stay searchable from both sides.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits document text into overlapping chunks, preferring to break
// at sentence boundaries.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive or inconsistent values fall back
// to the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split breaks text into chunks of roughly c.size characters. Whitespace-only
// input yields no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		// Prefer a sentence end inside the back half of the window, then any
		// whitespace, then a hard cut.
		cut := lastSentenceEnd(text[start:end])
		if cut <= c.size/2 {
			if ws := strings.LastIndexAny(text[start:end], " \t\n"); ws > c.size/2 {
				cut = ws + 1
			} else {
				cut = c.size
			}
		}

		// A hard cut in unbroken non-ASCII text can land inside a multi-byte
		// rune; chunk content is persisted and must stay valid UTF-8.
		cut = floorRuneBoundary(text, start+cut) - start
		if cut <= 0 {
			_, width := utf8.DecodeRuneInString(text[start:])
			cut = width
		}

		chunk := strings.TrimSpace(text[start : start+cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := floorRuneBoundary(text, start+cut-c.overlap)
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}

// floorRuneBoundary moves i back to the start of the rune it points into.
func floorRuneBoundary(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// lastSentenceEnd returns the index just past the last sentence terminator in
// s, or 0 when none is found. A terminator only counts when followed by
// whitespace or the end of the window, so "v1.2" does not split.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 || s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' {
				return i + 1
			}
		case '\n':
			if i > 0 && s[i-1] == '\n' {
				return i + 1
			}
		}
	}
	return 0
}
