package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	t.Run("collapses CRLF variants", func(t *testing.T) {
		assert.Equal(t, "a\nb\nc", NormalizeContent("a\r\nb\rc"))
	})

	t.Run("strips control characters", func(t *testing.T) {
		assert.Equal(t, "ab", NormalizeContent("a\x00\x1bb"))
	})

	t.Run("keeps newlines and tabs", func(t *testing.T) {
		assert.Equal(t, "a\n\tb", NormalizeContent("a\n\tb"))
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		assert.Equal(t, "hi", NormalizeContent("  hi \n"))
	})
}

func TestSearchNormalize(t *testing.T) {
	t.Run("rejects short terms", func(t *testing.T) {
		_, ok := SearchNormalize("hi")
		assert.False(t, ok)
	})

	t.Run("rejects terms short after trimming", func(t *testing.T) {
		_, ok := SearchNormalize("  ab  ")
		assert.False(t, ok)
	})

	t.Run("accepts normalized terms", func(t *testing.T) {
		term, ok := SearchNormalize(" golang\r\n")
		assert.True(t, ok)
		assert.Equal(t, "golang", term)
	})
}
