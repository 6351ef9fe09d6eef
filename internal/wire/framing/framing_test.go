package framing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextReturnsSingleChunk(t *testing.T) {
	chunks := Split("hello", ChatMaxChars)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0])
}

func TestSplit_UnboundedNeverChunks(t *testing.T) {
	text := strings.Repeat("x", 10000)
	chunks := Split(text, Unbounded)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplit_LongTextIsNumbered(t *testing.T) {
	text := strings.Repeat("a", 9000)
	chunks := Split(text, ChatMaxChars)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasPrefix(chunks[0], "[1/"))
	assert.True(t, strings.HasPrefix(chunks[len(chunks)-1], "["+string(rune('0'+len(chunks)))+"/"))
}

func TestSplit_PrefersBreakingAtNewline(t *testing.T) {
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 10)
	chunks := Split(text, 15)
	require.GreaterOrEqual(t, len(chunks), 2)
	// First chunk (after its numbering prefix) should end right after
	// the newline, not mid-word.
	assert.True(t, strings.HasSuffix(chunks[0], "\n"))
}

func TestEscapeHTML_EscapesReservedCharacters(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;c&gt;", EscapeHTML("a & b <c>"))
}

func TestEscapeHTMLStrict_AlsoEscapesQuotes(t *testing.T) {
	escaped := EscapeHTMLStrict(`she said "hi"`)
	assert.NotContains(t, escaped, `"`)
}
