package chunker

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/sidestore"
)

func newTestChunker(t *testing.T) (*Chunker, *sidestore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	side := sidestore.New(dir)
	ch := New(Options{
		ParentChunkSize:    100,
		ParentChunkOverlap: 20,
		ChildChunkSize:     30,
		ChildChunkOverlap:  5,
	}, side)
	return ch, side, filepath.Join(dir, "doc_1.json")
}

func TestProcessShortTextSingleChunk(t *testing.T) {
	ch, side, path := newTestChunker(t)

	chunks, err := ch.Process(1, "hello world", path, "b.txt", "")
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].ParentID)
	assert.Equal(t, "Body", chunks[0].Section)
	assert.Equal(t, "middle", chunks[0].Position)
	assert.False(t, chunks[0].IsMetadata)

	parents, err := side.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world"}, parents)
}

func TestProcessParentChildInvariant(t *testing.T) {
	ch, side, path := newTestChunker(t)

	text := strings.Repeat("Lorem ipsum dolor sit amet. ", 40)
	chunks, err := ch.Process(7, text, path, "doc.pdf", "")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	parents, err := side.Load(path)
	require.NoError(t, err)

	for _, c := range chunks {
		require.GreaterOrEqual(t, c.ParentID, 0)
		require.Less(t, c.ParentID, len(parents))
		assert.Contains(t, parents[c.ParentID], strings.TrimSpace(c.Text))
		assert.Equal(t, int64(7), c.DocID)
	}
}

func TestProcessMetadataChunkShiftsParents(t *testing.T) {
	ch, side, path := newTestChunker(t)

	meta := "=== DOCUMENT METADATA ===\nFilename: doc.pdf\n=== END METADATA ==="
	text := strings.Repeat("content text here. ", 20)
	chunks, err := ch.Process(3, text, path, "doc.pdf", meta)
	require.NoError(t, err)

	parents, err := side.Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, parents)
	assert.Equal(t, meta, parents[0], "metadata chunk must sit at parent index 0")

	var metaChunks, contentChunks int
	for _, c := range chunks {
		if c.IsMetadata {
			metaChunks++
			assert.Equal(t, 0, c.ParentID)
			assert.Equal(t, meta, c.Text)
			assert.Equal(t, "Document Metadata", c.Section)
			assert.Equal(t, "metadata", c.Position)
		} else {
			contentChunks++
			assert.GreaterOrEqual(t, c.ParentID, 1, "content parents shift by one")
			assert.Less(t, c.ParentID, len(parents))
			assert.Contains(t, parents[c.ParentID], strings.TrimSpace(c.Text))
		}
	}
	assert.Equal(t, 1, metaChunks)
	assert.Greater(t, contentChunks, 0)
}

func TestProcessWhitespaceOnlyText(t *testing.T) {
	ch, _, path := newTestChunker(t)

	chunks, err := ch.Process(1, "   \n\t  ", path, "empty.txt", "")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSlideWindowsStride(t *testing.T) {
	text := strings.Repeat("a", 250)
	windows := slideWindows(text, 100, 20)

	// Stride 80: [0,100) [80,180) [160,250)
	require.Len(t, windows, 3)
	assert.Len(t, windows[0], 100)
	assert.Len(t, windows[1], 100)
	assert.Len(t, windows[2], 90)
}

func TestSlideWindowsNoNegativeStride(t *testing.T) {
	windows := slideWindows(strings.Repeat("b", 50), 10, 10)
	assert.NotEmpty(t, windows)
}
