package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortText(t *testing.T) {
	c := NewChunker(1000, 200)
	chunks := c.Split("A single short paragraph.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "A single short paragraph.", chunks[0])
}

func TestSplitEmptyText(t *testing.T) {
	c := NewChunker(1000, 200)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\t  "))
}

func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	c := NewChunker(100, 20)
	text := strings.Repeat("This sentence is about forty characters. ", 10)

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(chunk, "."), "chunk %d should end at a sentence boundary: %q", i, chunk)
	}
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	c := NewChunker(100, 30)
	text := strings.Repeat("Alpha beta gamma delta epsilon zeta. ", 20)

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 2)
	// The start of each chunk repeats the tail of the previous one.
	for i := 1; i < len(chunks); i++ {
		head := chunks[i][:10]
		assert.Contains(t, chunks[i-1], head, "chunk %d should overlap its predecessor", i)
	}
}

func TestSplitCoversAllContent(t *testing.T) {
	c := NewChunker(80, 10)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 15)

	chunks := c.Split(text)
	joined := strings.Join(chunks, " ")
	assert.Contains(t, joined, "The quick brown fox")
	assert.Contains(t, chunks[len(chunks)-1], "lazy dog.")
}

func TestSplitUnbrokenText(t *testing.T) {
	// No sentence ends, no whitespace. Hard cuts must still terminate.
	c := NewChunker(50, 10)
	chunks := c.Split(strings.Repeat("x", 500))
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 50)
	}
}

func TestSplitUnbrokenMultibyteText(t *testing.T) {
	// CJK prose without ASCII punctuation or whitespace forces hard cuts,
	// which must not split a rune. 50 is not a multiple of 3 bytes.
	c := NewChunker(50, 9)
	chunks := c.Split(strings.Repeat("文", 300))
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk), "chunk %d is not valid UTF-8", i)
		assert.NotEmpty(t, chunk)
	}
}

func TestNewChunkerSanitizesBadConfig(t *testing.T) {
	c := NewChunker(0, -5)
	assert.Equal(t, DefaultChunkSize, c.size)
	assert.Equal(t, DefaultChunkOverlap, c.overlap)

	// Overlap larger than size would never advance.
	c = NewChunker(100, 150)
	assert.Less(t, c.overlap, c.size)
	chunks := c.Split(strings.Repeat("word ", 200))
	assert.NotEmpty(t, chunks)
}
