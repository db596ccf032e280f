package parser

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, opts ...RecursiveChunkerOption) *RecursiveChunker {
	t.Helper()
	c, err := NewRecursiveChunker(opts...)
	require.NoError(t, err)
	return c
}

func TestRecursiveChunkerEmptyInput(t *testing.T) {
	c := newTestChunker(t)
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split(" \n\n\t "))
}

func TestRecursiveChunkerShortText(t *testing.T) {
	c := newTestChunker(t)
	chunks := c.Split("  Jane Doe\nGo developer  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Jane Doe\nGo developer", chunks[0].Text)
	assert.Equal(t, 2, chunks[0].SourceOffset)
}

func TestRecursiveChunkerPrefersParagraphBoundary(t *testing.T) {
	p1 := strings.TrimSpace(strings.Repeat("alpha ", 100))
	p2 := strings.TrimSpace(strings.Repeat("bravo ", 100))
	text := p1 + "\n\n" + p2

	chunks := newTestChunker(t).Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, p1, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].SourceOffset)
	assert.Equal(t, p2, chunks[1].Text)
	assert.Equal(t, len(p1)+2, chunks[1].SourceOffset)
}

func TestRecursiveChunkerSplitsOnWordsWithOverlap(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("lorem ", 400))
	chunks := newTestChunker(t).Split(text)
	require.Greater(t, len(chunks), 2)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), DefaultChunkSize)
		for _, word := range strings.Fields(chunk.Text) {
			assert.Equal(t, "lorem", word, "chunk %d cut a word", i)
		}
		if i > 0 {
			prev := chunks[i-1]
			assert.Less(t, chunk.SourceOffset, prev.SourceOffset+len(prev.Text), "chunk %d should overlap its predecessor", i)
		}
	}
}

func TestRecursiveChunkerHardCut(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := newTestChunker(t).Split(text)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].SourceOffset)
	assert.Equal(t, 900, chunks[1].SourceOffset)
	assert.Equal(t, 1800, chunks[2].SourceOffset)
	assert.Len(t, chunks[0].Text, 1000)
	assert.Len(t, chunks[1].Text, 1000)
	assert.Len(t, chunks[2].Text, 700)
}

func TestRecursiveChunkerOffsetsPointIntoSource(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("Experience line with some détails about Go, Kafka and Redis.\n")
		if i%7 == 0 {
			sb.WriteString("\n")
		}
	}
	text := sb.String()

	c := newTestChunker(t, WithChunkSize(200), WithChunkOverlap(20))
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), 200)
		assert.Equal(t, chunk.Text, text[chunk.SourceOffset:chunk.SourceOffset+len(chunk.Text)])
	}
}

func TestRecursiveChunkerCountsRunes(t *testing.T) {
	text := strings.Repeat("é", 30)
	chunks := newTestChunker(t, WithChunkSize(10), WithChunkOverlap(2)).Split(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), 10)
	}
}

func TestNewRecursiveChunkerRejectsInvalidConfig(t *testing.T) {
	_, err := NewRecursiveChunker(WithChunkSize(0))
	assert.Error(t, err)

	_, err = NewRecursiveChunker(WithChunkSize(100), WithChunkOverlap(100))
	assert.Error(t, err)

	_, err = NewRecursiveChunker(WithChunkOverlap(-1))
	assert.Error(t, err)
}

func TestRecursiveChunkerTransform(t *testing.T) {
	c := newTestChunker(t, WithChunkSize(20), WithChunkOverlap(0))
	docs, err := c.Transform(context.Background(), []*schema.Document{
		{ID: "r1", Content: "first paragraph\n\nsecond paragraph", MetaData: map[string]any{"uri": "a.pdf"}},
		nil,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "r1_0", docs[0].ID)
	assert.Equal(t, "first paragraph", docs[0].Content)
	assert.Equal(t, "a.pdf", docs[0].MetaData["uri"])
	assert.Equal(t, 0, docs[0].MetaData["chunk_index"])
	assert.Equal(t, "second paragraph", docs[1].Content)
	assert.Equal(t, 17, docs[1].MetaData["source_offset"])
}
