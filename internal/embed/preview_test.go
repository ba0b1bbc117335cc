package embed

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestFirstRunes(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", firstRunes("hello", 500))
	})

	t.Run("ascii cut at limit", func(t *testing.T) {
		long := strings.Repeat("a", 600)
		got := firstRunes(long, 500)
		assert.Len(t, got, 500)
	})

	t.Run("multibyte cut lands on rune boundary", func(t *testing.T) {
		// 600 three-byte runes: a byte-level cut at 500 would split one.
		long := strings.Repeat("漢", 600)
		got := firstRunes(long, 500)
		assert.True(t, utf8.ValidString(got), "preview must stay valid UTF-8")
		assert.Equal(t, 500, utf8.RuneCountInString(got))
	})

	t.Run("multibyte under rune limit kept whole", func(t *testing.T) {
		// 400 runes but 1200 bytes; the limit counts characters, not bytes.
		text := strings.Repeat("字", 400)
		assert.Equal(t, text, firstRunes(text, 500))
	})
}
