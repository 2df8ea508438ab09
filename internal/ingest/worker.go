package ingest

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"docqa/internal/procstate"
	"docqa/internal/store"
)

// Worker drains pending documents one at a time. It wakes on a timer or an
// explicit trigger (upload handlers, sync completion) and runs one initial
// pass at startup.
type Worker struct {
	pipeline *Pipeline
	db       DocumentStore
	state    *procstate.Tracker
	interval time.Duration

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWorker(pipeline *Pipeline, db DocumentStore, state *procstate.Tracker, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Worker{
		pipeline: pipeline,
		db:       db,
		state:    state,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the processing loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		log.Warn().Msg("document worker already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
	log.Info().Dur("interval", w.interval).Msg("document worker started")
}

// Stop cancels the loop and waits for the current iteration to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("document worker stopped")
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Interval exposes the poll interval for health reporting.
func (w *Worker) Interval() time.Duration { return w.interval }

// Trigger requests an immediate check. Safe from any goroutine; a pending
// trigger is collapsed into one wakeup.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)

	// Initial pass for documents left pending across restarts.
	w.drainPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
			log.Debug().Msg("worker woken by trigger")
		case <-time.After(w.interval):
		}
		w.drainPending(ctx)
	}
}

// drainPending processes pending documents one at a time until none remain.
func (w *Worker) drainPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		doc, err := w.db.NextPendingDocument(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("worker failed to query pending documents")
			return
		}

		// Re-check after fetch; another path may have finished it.
		fresh, err := w.db.GetDocument(ctx, doc.ID)
		if err != nil || fresh.Processed {
			continue
		}
		if !w.processOne(ctx, fresh) {
			// The failure sentinel could not be written; back off until the
			// next wakeup instead of spinning on the same document.
			return
		}
	}
}

// processOne runs the pipeline for one document. It returns false only when
// the document may still be pending afterwards.
func (w *Worker) processOne(ctx context.Context, doc store.Document) bool {
	w.state.SetProcessing(doc.ID)
	defer w.state.SetProcessing(0)

	if doc.FilePath == "" {
		log.Warn().Int64("doc_id", doc.ID).Str("filename", doc.Filename).Msg("cannot process document without a file path")
		return w.markFailed(ctx, doc.ID)
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		log.Warn().Int64("doc_id", doc.ID).Str("path", doc.FilePath).Msg("cannot process document, file not found on disk")
		return w.markFailed(ctx, doc.ID)
	}

	log.Info().Int64("doc_id", doc.ID).Str("filename", doc.Filename).Msg("worker processing document")
	start := time.Now()
	if _, err := w.pipeline.Process(ctx, doc, doc.FilePath); err != nil {
		log.Error().Err(err).Int64("doc_id", doc.ID).Msg("worker processing failed")
		// The pipeline writes the failure sentinel itself; confirm it stuck.
		fresh, fetchErr := w.db.GetDocument(ctx, doc.ID)
		return fetchErr == nil && fresh.Processed
	}
	log.Info().Int64("doc_id", doc.ID).Dur("elapsed", time.Since(start)).Msg("worker processing complete")
	return true
}

func (w *Worker) markFailed(ctx context.Context, docID int64) bool {
	if err := w.db.MarkFailed(ctx, docID); err != nil {
		log.Error().Err(err).Int64("doc_id", docID).Msg("failed to mark document as failed")
		return false
	}
	return true
}
