package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortContent(t *testing.T) {
	c := NewChunker(100, 20)
	chunks := c.Split("fits in one chunk")

	require.Len(t, chunks, 1)
	assert.Equal(t, "fits in one chunk", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].Total)
	assert.Equal(t, 0, chunks[0].Overlap)
}

func TestSplitJoinRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "prose",
			content: strings.Repeat("the quick brown fox jumps over the lazy dog ", 60),
		},
		{
			name:    "no whitespace",
			content: strings.Repeat("a", 3000),
		},
		{
			name:    "newlines",
			content: strings.Repeat("func main() {\n\tprintln(\"hello\")\n}\n\n", 80),
		},
		{
			name:    "multibyte runes",
			content: strings.Repeat("héllo wörld nïce dæmon ", 200),
		},
		{
			name:    "multibyte without whitespace",
			content: strings.Repeat("日本語のテキストです", 100),
		},
		{
			name:    "exactly chunk size",
			content: strings.Repeat("x", 500),
		},
		{
			name:    "one byte over",
			content: strings.Repeat("y", 501),
		},
	}

	c := NewChunker(500, 50)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := c.Split(tt.content)
			assert.Equal(t, tt.content, c.Join(chunks))
		})
	}
}

func TestSplitChunkBounds(t *testing.T) {
	c := NewChunker(500, 50)
	content := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 120)
	chunks := c.Split(content)

	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), c.Size(), "chunk %d exceeds size", i)
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, len(chunks), ch.Total)
	}
	assert.Zero(t, chunks[0].Overlap)
	for _, ch := range chunks[1:] {
		assert.Equal(t, 50, ch.Overlap)
	}
}

func TestJoinOutOfOrder(t *testing.T) {
	c := NewChunker(500, 50)
	content := strings.Repeat("order should not matter for reassembly ", 100)
	chunks := c.Split(content)
	require.Greater(t, len(chunks), 2)

	shuffled := []Chunk{chunks[len(chunks)-1]}
	shuffled = append(shuffled, chunks[:len(chunks)-1]...)
	assert.Equal(t, content, c.Join(shuffled))
}

func TestJoinLegacyChunksWithoutOverlap(t *testing.T) {
	c := NewChunker(500, 50)
	chunks := []Chunk{
		{Text: "first", Index: 0, Total: 2, Overlap: -1},
		{Text: "second", Index: 1, Total: 2, Overlap: -1},
	}
	assert.Equal(t, "first second", c.Join(chunks))
}

func TestJoinEmpty(t *testing.T) {
	c := NewChunker(500, 50)
	assert.Empty(t, c.Join(nil))
}

func TestNewChunkerDefaults(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, c.size)
	assert.Equal(t, DefaultChunkOverlap, c.overlap)

	// Overlap that leaves no room for fresh content is reduced.
	c = NewChunker(100, 200)
	assert.Equal(t, 100, c.size)
	assert.Equal(t, 10, c.overlap)
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "item-1", ChunkID("item-1", 0, 1))
	assert.Equal(t, "item-1_chunk_0", ChunkID("item-1", 0, 3))
	assert.Equal(t, "item-1_chunk_2", ChunkID("item-1", 2, 3))
}

func TestSplitSnapsToWhitespace(t *testing.T) {
	// Long words force hard cuts; spaced words let the cut move back onto
	// a boundary. Either way the reassembly stays byte-exact.
	content := strings.Repeat("alpha beta gamma delta epsilon zeta ", 50)
	c := NewChunker(200, 20)
	chunks := c.Split(content)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks[1:] {
		fresh := ch.Text[ch.Overlap:]
		require.NotEmpty(t, fresh)
		assert.False(t, strings.HasPrefix(fresh, " "),
			"cut should land after the space, not before it")
	}
	assert.Equal(t, content, c.Join(chunks))
}
