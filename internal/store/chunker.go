package store

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the content length above which items are chunked.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of bytes repeated between adjacent
	// chunks so local context survives the boundary.
	DefaultChunkOverlap = 100
)

// Chunk is one content-bounded fragment of an oversized item.
type Chunk struct {
	Text  string
	Index int
	Total int

	// Overlap is the number of leading bytes that repeat the previous
	// chunk's tail. Stripping it during Join reproduces the original
	// content byte for byte.
	Overlap int
}

// Chunker splits oversized content into overlapping chunks and joins them
// back. Split points snap to whitespace where possible so words are not cut
// in half.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive size or overlap fall back to
// the defaults; an overlap that would not leave room for new content per
// chunk is reduced to a tenth of the size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int {
	return c.size
}

// Split carves content into chunks of at most the configured size. Content
// that fits in one chunk is returned unchanged as a single chunk.
func (c *Chunker) Split(content string) []Chunk {
	if len(content) <= c.size {
		return []Chunk{{Text: content, Index: 0, Total: 1, Overlap: 0}}
	}

	step := c.size - c.overlap
	cuts := []int{0}
	for pos := 0; pos < len(content); {
		cut := pos + step
		if cut >= len(content) {
			cut = len(content)
		} else {
			cut = snapToWhitespace(content, cut, pos+step/2)
		}
		cuts = append(cuts, cut)
		pos = cut
	}

	chunks := make([]Chunk, 0, len(cuts)-1)
	for i := 0; i < len(cuts)-1; i++ {
		segStart, segEnd := cuts[i], cuts[i+1]

		start := segStart - c.overlap
		if start < 0 {
			start = 0
		}
		for start < segStart && !utf8.RuneStart(content[start]) {
			start++
		}

		chunks = append(chunks, Chunk{
			Text:    content[start:segEnd],
			Index:   i,
			Overlap: segStart - start,
		})
	}
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// Join reassembles chunks into the original content. Chunks carrying their
// overlap length are rejoined byte-exact; chunks without it (written by an
// older format) fall back to a single-space join.
func (c *Chunker) Join(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	exact := true
	for _, ch := range sorted {
		if ch.Overlap < 0 {
			exact = false
			break
		}
	}
	if !exact {
		texts := make([]string, len(sorted))
		for i, ch := range sorted {
			texts[i] = ch.Text
		}
		return strings.Join(texts, " ")
	}

	var b strings.Builder
	for i, ch := range sorted {
		text := ch.Text
		if i > 0 && ch.Overlap > 0 && ch.Overlap <= len(text) {
			text = text[ch.Overlap:]
		}
		b.WriteString(text)
	}
	return b.String()
}

// ChunkID derives the storage id for one chunk of an item. Single-chunk
// items keep their plain id.
func ChunkID(id string, index, total int) string {
	if total <= 1 {
		return id
	}
	return fmt.Sprintf("%s_chunk_%d", id, index)
}

// snapToWhitespace moves a tentative cut backward onto a whitespace
// boundary so the cut lands between words. It never moves past floor; when
// no whitespace is found the original position is kept (a hard cut inside
// a word, the best-effort case). The returned cut always lands on a rune
// boundary.
func snapToWhitespace(content string, cut, floor int) int {
	for !utf8.RuneStart(content[cut]) {
		cut--
	}
	for i := cut; i > floor; i-- {
		if !utf8.RuneStart(content[i]) {
			continue
		}
		r, _ := utf8.DecodeRuneInString(content[i:])
		if unicode.IsSpace(r) {
			// Cut after the space so the next chunk starts on a word.
			next := i + utf8.RuneLen(r)
			if next <= len(content) {
				return next
			}
			return i
		}
	}
	return cut
}
