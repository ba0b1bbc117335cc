package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSnippetCutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("資料庫索引", 100) // 500 runes, 1500 bytes
	got := snippet(long)
	assert.True(t, utf8.ValidString(got), "payload snippets must stay valid UTF-8")
	assert.Equal(t, snippetLength, utf8.RuneCountInString(got))

	short := "plain ascii text"
	assert.Equal(t, short, snippet(short))
}
