// Package ingest runs the document processing pipeline and the background
// worker that drains pending documents.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"docqa/internal/chunker"
	"docqa/internal/docmeta"
	"docqa/internal/parser"
	"docqa/internal/procstate"
	"docqa/internal/sidestore"
	"docqa/internal/store"
	"docqa/internal/vectorstore"
)

const firstPagesForMetadata = 2
const firstPagesMaxChars = 8000

// VectorWriter is the slice of the vector store the pipeline needs.
type VectorWriter interface {
	ResetCollection(ctx context.Context, name string) error
	AddDocuments(ctx context.Context, docID int64, chunks []vectorstore.Chunk, name, documentName string, onProgress func(done, total int)) error
}

// DocumentStore is the slice of persistence the pipeline and worker need.
type DocumentStore interface {
	GetDocument(ctx context.Context, id int64) (store.Document, error)
	NextPendingDocument(ctx context.Context) (store.Document, error)
	MarkProcessed(ctx context.Context, id int64, numChunks int, parentsPath string) error
	MarkFailed(ctx context.Context, id int64) error
}

// Pipeline orchestrates extract -> metadata -> chunk -> embed/store ->
// finalize for one document, reporting progress after each stage.
type Pipeline struct {
	parser    *parser.Parser
	extractor *docmeta.Extractor
	chunker   *chunker.Chunker
	side      *sidestore.Store
	vectors   VectorWriter
	db        DocumentStore
	state     *procstate.Tracker
}

func NewPipeline(
	p *parser.Parser,
	extractor *docmeta.Extractor,
	ch *chunker.Chunker,
	side *sidestore.Store,
	vectors VectorWriter,
	db DocumentStore,
	state *procstate.Tracker,
) *Pipeline {
	return &Pipeline{
		parser:    p,
		extractor: extractor,
		chunker:   ch,
		side:      side,
		vectors:   vectors,
		db:        db,
		state:     state,
	}
}

// Process runs all stages for the document at filePath. On failure the
// document is marked terminally failed (num_chunks = -1) so the worker never
// retries it, and the error is propagated.
func (p *Pipeline) Process(ctx context.Context, doc store.Document, filePath string) (store.Document, error) {
	docID := doc.ID
	collection := doc.CollectionName()
	log.Info().Int64("doc_id", docID).Str("filename", doc.Filename).Str("collection", collection).Msg("pipeline start")

	doc, err := p.run(ctx, doc, filePath)
	if err != nil {
		p.state.Report(docID, "error", 0.0, fmt.Sprintf("Processing failed: %v", err))
		log.Error().Err(err).Int64("doc_id", docID).Str("filename", doc.Filename).Msg("pipeline failed")

		// The in-memory document may be stale; re-fetch before writing the
		// failure sentinel.
		if _, fetchErr := p.db.GetDocument(ctx, docID); fetchErr == nil {
			if markErr := p.db.MarkFailed(ctx, docID); markErr != nil {
				log.Error().Err(markErr).Int64("doc_id", docID).Msg("failed to mark document as failed")
			} else {
				log.Warn().Int64("doc_id", docID).Msg("document marked failed to prevent retry loop")
			}
		}
		return doc, err
	}
	return doc, nil
}

func (p *Pipeline) run(ctx context.Context, doc store.Document, filePath string) (store.Document, error) {
	docID := doc.ID
	collection := doc.CollectionName()

	p.state.Report(docID, "starting", 0.05, "Starting document processing...")

	p.state.Report(docID, "extraction", 0.10, "Extracting text from document...")
	text, err := p.parser.ExtractText(ctx, filePath)
	if err != nil {
		return doc, fmt.Errorf("extract text: %w", err)
	}
	p.state.Report(docID, "extraction", 0.20, fmt.Sprintf("Text extracted (%d chars)", len(text)))

	p.state.Report(docID, "metadata", 0.25, "Extracting metadata...")
	metadataChunk := p.extractMetadata(ctx, filePath, doc.Filename)
	if metadataChunk != "" {
		p.state.Report(docID, "metadata", 0.30, "Metadata extracted")
	} else {
		p.state.Report(docID, "metadata", 0.30, "No metadata found")
	}

	p.state.Report(docID, "chunking", 0.35, "Splitting document into chunks...")
	parentsPath := p.side.PathFor(docID)
	chunks, err := p.chunker.Process(docID, text, parentsPath, doc.Filename, metadataChunk)
	if err != nil {
		return doc, fmt.Errorf("chunk document: %w", err)
	}
	p.state.Report(docID, "chunking", 0.45, fmt.Sprintf("Created %d chunks", len(chunks)))

	p.state.Report(docID, "embedding", 0.50, "Preparing vector store...")
	if err := p.vectors.ResetCollection(ctx, collection); err != nil {
		return doc, fmt.Errorf("reset collection: %w", err)
	}
	p.state.Report(docID, "embedding", 0.55, "Embedding chunks...")
	err = p.vectors.AddDocuments(ctx, docID, chunks, collection, doc.Filename, func(done, total int) {
		progress := 0.55 + 0.35*float64(done)/float64(total)
		p.state.Report(docID, "embedding", progress, fmt.Sprintf("Embedding chunk %d/%d", done, total))
	})
	if err != nil {
		return doc, fmt.Errorf("store vectors: %w", err)
	}
	p.state.Report(docID, "storing", 0.90, "Storing vectors complete")

	p.state.Report(docID, "finalizing", 0.95, "Updating database...")
	if err := p.db.MarkProcessed(ctx, docID, len(chunks), parentsPath); err != nil {
		return doc, fmt.Errorf("finalize document: %w", err)
	}

	doc.Processed = true
	doc.NumChunks = len(chunks)
	doc.ParentsPath = parentsPath

	p.state.Report(docID, "complete", 1.0, fmt.Sprintf("Processing complete - %d chunks created", len(chunks)))
	log.Info().Int64("doc_id", docID).Int("chunks", len(chunks)).Msg("pipeline complete")
	return doc, nil
}

// extractMetadata is best-effort; failures only cost the metadata chunk.
func (p *Pipeline) extractMetadata(ctx context.Context, filePath, filename string) string {
	firstPages, err := p.parser.ExtractFirstPagesText(filePath, firstPagesForMetadata, firstPagesMaxChars)
	if err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("metadata extraction skipped")
		return ""
	}

	var pdfMeta *parser.PDFMetadata
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		pdfMeta, err = p.parser.ExtractPDFMetadata(filePath)
		if err != nil {
			log.Debug().Err(err).Str("filename", filename).Msg("pdf metadata unavailable")
		}
	}

	meta := p.extractor.Extract(ctx, firstPages, filename, pdfMeta)
	return docmeta.ComposeChunk(meta, filename)
}
