package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/chunker"
	"docqa/internal/docmeta"
	"docqa/internal/parser"
	"docqa/internal/procstate"
	"docqa/internal/sidestore"
	"docqa/internal/store"
	"docqa/internal/vectorstore"
)

type fakeVectors struct {
	mu       sync.Mutex
	resets   []string
	added    map[string][]vectorstore.Chunk
	addErr   error
	resetErr error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{added: map[string][]vectorstore.Chunk{}}
}

func (f *fakeVectors) ResetCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, name)
	return f.resetErr
}

func (f *fakeVectors) AddDocuments(_ context.Context, _ int64, chunks []vectorstore.Chunk, name, _ string, onProgress func(done, total int)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added[name] = chunks
	if onProgress != nil {
		onProgress(len(chunks), len(chunks))
	}
	return nil
}

type fakeDocs struct {
	mu   sync.Mutex
	docs map[int64]store.Document
}

func newFakeDocs(docs ...store.Document) *fakeDocs {
	f := &fakeDocs{docs: map[int64]store.Document{}}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeDocs) GetDocument(_ context.Context, id int64) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocs) NextPendingDocument(context.Context) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *store.Document
	for id := range f.docs {
		doc := f.docs[id]
		if !doc.Processed && doc.NumChunks >= 0 {
			if best == nil || doc.ID < best.ID {
				best = &doc
			}
		}
	}
	if best == nil {
		return store.Document{}, store.ErrNotFound
	}
	return *best, nil
}

func (f *fakeDocs) MarkProcessed(_ context.Context, id int64, numChunks int, parentsPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	doc.Processed = true
	doc.NumChunks = numChunks
	doc.ParentsPath = parentsPath
	f.docs[id] = doc
	return nil
}

func (f *fakeDocs) MarkFailed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	doc.Processed = true
	doc.NumChunks = store.FailedChunks
	f.docs[id] = doc
	return nil
}

func newTestPipeline(t *testing.T, vectors VectorWriter, db DocumentStore) (*Pipeline, *procstate.Tracker) {
	t.Helper()
	side := sidestore.New(t.TempDir())
	state := procstate.NewTracker()
	pipeline := NewPipeline(
		parser.New(nil),
		docmeta.NewExtractor(nil, false),
		chunker.New(chunker.Options{ParentChunkSize: 200, ParentChunkOverlap: 40, ChildChunkSize: 60, ChildChunkOverlap: 10}, side),
		side,
		vectors,
		db,
		state,
	)
	return pipeline, state
}

func writeTextFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPipelineProcessSuccess(t *testing.T) {
	vectors := newFakeVectors()
	filePath := writeTextFile(t, "hello.txt", "hello world")
	db := newFakeDocs(store.Document{ID: 1, Filename: "hello.txt", FilePath: filePath})
	pipeline, state := newTestPipeline(t, vectors, db)

	doc, _ := db.GetDocument(context.Background(), 1)
	processed, err := pipeline.Process(context.Background(), doc, filePath)
	require.NoError(t, err)

	// One content chunk plus the metadata chunk composed from the filename.
	assert.Equal(t, 2, processed.NumChunks)
	assert.True(t, processed.Processed)
	assert.Equal(t, []string{"doc_1"}, vectors.resets)
	assert.Len(t, vectors.added["doc_1"], 2)

	stored, _ := db.GetDocument(context.Background(), 1)
	assert.True(t, stored.Processed)
	assert.Equal(t, 2, stored.NumChunks)
	assert.FileExists(t, stored.ParentsPath)

	status, ok := state.Status(1)
	require.True(t, ok)
	assert.Equal(t, "complete", status.Stage)
	assert.Equal(t, 1.0, status.Progress)
}

func TestPipelineProcessFailureMarksTerminal(t *testing.T) {
	vectors := newFakeVectors()
	vectors.addErr = errors.New("upsert exploded")
	filePath := writeTextFile(t, "doc.txt", "some content")
	db := newFakeDocs(store.Document{ID: 2, Filename: "doc.txt", FilePath: filePath})
	pipeline, state := newTestPipeline(t, vectors, db)

	doc, _ := db.GetDocument(context.Background(), 2)
	_, err := pipeline.Process(context.Background(), doc, filePath)
	require.Error(t, err)

	stored, _ := db.GetDocument(context.Background(), 2)
	assert.True(t, stored.Processed)
	assert.Equal(t, store.FailedChunks, stored.NumChunks)

	status, ok := state.Status(2)
	require.True(t, ok)
	assert.Equal(t, "error", status.Stage)
	assert.Equal(t, 0.0, status.Progress)
}

func TestPipelineUnsupportedFileFails(t *testing.T) {
	vectors := newFakeVectors()
	filePath := writeTextFile(t, "sheet.xlsx", "binary-ish")
	db := newFakeDocs(store.Document{ID: 3, Filename: "sheet.xlsx", FilePath: filePath})
	pipeline, _ := newTestPipeline(t, vectors, db)

	doc, _ := db.GetDocument(context.Background(), 3)
	_, err := pipeline.Process(context.Background(), doc, filePath)
	require.Error(t, err)
	assert.ErrorIs(t, err, parser.ErrUnsupportedFileType)

	stored, _ := db.GetDocument(context.Background(), 3)
	assert.Equal(t, store.FailedChunks, stored.NumChunks)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorkerDrainsPendingOnStart(t *testing.T) {
	vectors := newFakeVectors()
	filePath := writeTextFile(t, "a.txt", "text to index")
	db := newFakeDocs(
		store.Document{ID: 1, Filename: "a.txt", FilePath: filePath},
		store.Document{ID: 2, Filename: "failed.txt", NumChunks: store.FailedChunks, Processed: true},
	)
	pipeline, state := newTestPipeline(t, vectors, db)
	worker := NewWorker(pipeline, db, state, time.Hour)

	worker.Start(context.Background())
	defer worker.Stop()

	waitFor(t, func() bool {
		doc, _ := db.GetDocument(context.Background(), 1)
		return doc.Processed
	})

	doc, _ := db.GetDocument(context.Background(), 1)
	assert.Greater(t, doc.NumChunks, 0)
	// The terminally failed document is never touched.
	failed, _ := db.GetDocument(context.Background(), 2)
	assert.Equal(t, store.FailedChunks, failed.NumChunks)
}

func TestWorkerTriggerWakesLoop(t *testing.T) {
	vectors := newFakeVectors()
	db := newFakeDocs()
	pipeline, state := newTestPipeline(t, vectors, db)
	worker := NewWorker(pipeline, db, state, time.Hour)

	worker.Start(context.Background())
	defer worker.Stop()

	filePath := writeTextFile(t, "late.txt", "uploaded after start")
	db.mu.Lock()
	db.docs[5] = store.Document{ID: 5, Filename: "late.txt", FilePath: filePath}
	db.mu.Unlock()

	worker.Trigger()
	waitFor(t, func() bool {
		doc, _ := db.GetDocument(context.Background(), 5)
		return doc.Processed
	})
}

func TestWorkerMissingFileMarksFailed(t *testing.T) {
	vectors := newFakeVectors()
	db := newFakeDocs(store.Document{ID: 9, Filename: "ghost.pdf", FilePath: "/nonexistent/ghost.pdf"})
	pipeline, state := newTestPipeline(t, vectors, db)
	worker := NewWorker(pipeline, db, state, time.Hour)

	worker.Start(context.Background())
	defer worker.Stop()

	waitFor(t, func() bool {
		doc, _ := db.GetDocument(context.Background(), 9)
		return doc.Processed
	})
	doc, _ := db.GetDocument(context.Background(), 9)
	assert.Equal(t, store.FailedChunks, doc.NumChunks)
}
