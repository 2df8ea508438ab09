// Package chunker implements parent/child segmentation. Parents are coarse
// character windows persisted to the side-store; children are finer windows
// over each parent, stored as vector points with a back-reference to their
// parent index. A metadata chunk, when present, occupies parent index 0 and
// shifts all content parents by one.
package chunker

import (
	"fmt"
	"strings"

	"docqa/internal/sidestore"
	"docqa/internal/vectorstore"
)

const (
	sectionBody     = "Body"
	sectionMetadata = "Document Metadata"

	positionMiddle   = "middle"
	positionMetadata = "metadata"
)

// Options are the window sizes in characters.
type Options struct {
	ParentChunkSize    int
	ParentChunkOverlap int
	ChildChunkSize     int
	ChildChunkOverlap  int
}

// Chunker splits text and persists the parent array.
type Chunker struct {
	opts  Options
	store *sidestore.Store
}

func New(opts Options, store *sidestore.Store) *Chunker {
	if opts.ParentChunkSize <= 0 {
		opts.ParentChunkSize = 2000
	}
	if opts.ChildChunkSize <= 0 {
		opts.ChildChunkSize = 400
	}
	return &Chunker{opts: opts, store: store}
}

// Process splits the text into parents and children, persists the parent
// array at sideStorePath, and returns the child chunks. metadataChunk, when
// non-empty, is prepended as parent 0 and additionally emitted as one child.
func (c *Chunker) Process(docID int64, text, sideStorePath, documentName, metadataChunk string) ([]vectorstore.Chunk, error) {
	parents := slideWindows(text, c.opts.ParentChunkSize, c.opts.ParentChunkOverlap)

	parentOffset := 0
	stored := parents
	if metadataChunk != "" {
		parentOffset = 1
		stored = append([]string{metadataChunk}, parents...)
	}

	if err := c.store.Save(sideStorePath, stored); err != nil {
		return nil, fmt.Errorf("persist parent array: %w", err)
	}

	var chunks []vectorstore.Chunk
	chunkID := 0
	for p, parentText := range parents {
		for _, childText := range slideWindows(parentText, c.opts.ChildChunkSize, c.opts.ChildChunkOverlap) {
			chunks = append(chunks, vectorstore.Chunk{
				Text:         childText,
				DocID:        docID,
				ChunkID:      chunkID,
				ParentID:     p + parentOffset,
				DocumentName: documentName,
				Section:      sectionBody,
				Position:     positionMiddle,
			})
			chunkID++
		}
	}

	if metadataChunk != "" {
		chunks = append(chunks, vectorstore.Chunk{
			Text:         metadataChunk,
			DocID:        docID,
			ChunkID:      chunkID,
			ParentID:     0,
			DocumentName: documentName,
			Section:      sectionMetadata,
			Position:     positionMetadata,
			IsMetadata:   true,
		})
	}
	return chunks, nil
}

// slideWindows cuts text into windows of size chars advancing by
// (size - overlap), dropping whitespace-only windows.
func slideWindows(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	stride := size - overlap
	if stride <= 0 {
		stride = size
	}

	var out []string
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			out = append(out, window)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
