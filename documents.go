// docqa/documents.go

package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"docqa/internal/store"
)

// documentResponse is the API shape of a document, including the derived
// collection name and the live processing flag.
type documentResponse struct {
	ID                   int64     `json:"id"`
	Filename             string    `json:"filename"`
	FilePath             string    `json:"file_path"`
	UploadedAt           time.Time `json:"uploaded_at"`
	Processed            bool      `json:"processed"`
	NumChunks            int       `json:"num_chunks"`
	CollectionName       string    `json:"collection_name"`
	QueryEnabled         bool      `json:"query_enabled"`
	IsActivelyProcessing bool      `json:"is_actively_processing"`
}

func (a *App) documentResponse(doc store.Document) documentResponse {
	return documentResponse{
		ID:                   doc.ID,
		Filename:             doc.Filename,
		FilePath:             doc.FilePath,
		UploadedAt:           doc.UploadedAt,
		Processed:            doc.Processed,
		NumChunks:            doc.NumChunks,
		CollectionName:       doc.CollectionName(),
		QueryEnabled:         doc.QueryEnabled,
		IsActivelyProcessing: a.state.IsProcessing(doc.ID),
	}
}

func (a *App) uploadDocumentHandler(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return detail(c, http.StatusBadRequest, "Missing file upload")
	}
	log.Info().Str("filename", fileHeader.Filename).Msg("document upload received")

	src, err := fileHeader.Open()
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to read upload")
	}
	defer src.Close()

	filename := filepath.Base(fileHeader.Filename)
	filePath := filepath.Join(a.cfg.UploadDir(), filename)
	dst, err := os.Create(filePath)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to save upload")
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(filePath)
		return detail(c, http.StatusInternalServerError, "Failed to save upload")
	}
	if err := dst.Close(); err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to save upload")
	}

	doc, err := a.db.CreateDocument(c.Request().Context(), filename, filePath, true)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to create document")
	}
	log.Info().Int64("doc_id", doc.ID).Msg("document queued")

	a.worker.Trigger()
	return c.JSON(http.StatusOK, a.documentResponse(doc))
}

func (a *App) listDocumentsHandler(c echo.Context) error {
	docs, err := a.db.ListDocuments(c.Request().Context())
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to list documents")
	}
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, a.documentResponse(doc))
	}
	return c.JSON(http.StatusOK, out)
}

func (a *App) getDocumentHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid document id")
	}
	doc, err := a.db.GetDocument(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return detail(c, http.StatusNotFound, "Document not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to load document")
	}
	return c.JSON(http.StatusOK, a.documentResponse(doc))
}

func (a *App) reprocessDocumentHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid document id")
	}
	ctx := c.Request().Context()

	doc, err := a.db.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return detail(c, http.StatusNotFound, "Document not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to load document")
	}
	if doc.FilePath == "" {
		return detail(c, http.StatusBadRequest, "Document file not found on disk")
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		return detail(c, http.StatusBadRequest, "Document file not found on disk")
	}

	if err := a.db.MarkUnprocessed(ctx, id); err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to queue document")
	}
	a.worker.Trigger()

	doc, err = a.db.GetDocument(ctx, id)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to load document")
	}
	return c.JSON(http.StatusOK, a.documentResponse(doc))
}

type documentPreferenceUpdate struct {
	QueryEnabled bool `json:"query_enabled"`
}

func (a *App) updateDocumentPreferencesHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid document id")
	}
	var req documentPreferenceUpdate
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body")
	}

	doc, err := a.db.SetQueryEnabled(c.Request().Context(), id, req.QueryEnabled)
	if errors.Is(err, store.ErrNotFound) {
		return detail(c, http.StatusNotFound, "Document not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to update document")
	}
	return c.JSON(http.StatusOK, a.documentResponse(doc))
}

// deleteDocumentHandler removes the row first (fatal on failure); collection,
// side-store and source file cleanup are best effort.
func (a *App) deleteDocumentHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid document id")
	}
	ctx := c.Request().Context()

	doc, err := a.db.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return detail(c, http.StatusNotFound, "Document not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to load document")
	}

	if err := a.db.DeleteDocument(ctx, id); err != nil {
		return detail(c, http.StatusInternalServerError, "Error deleting document")
	}

	if err := a.vectors.DeleteDocument(ctx, doc.CollectionName()); err != nil {
		log.Warn().Err(err).Int64("doc_id", id).Msg("collection deletion failed")
	}
	if err := a.side.Delete(doc.ParentsPath); err != nil {
		log.Warn().Err(err).Int64("doc_id", id).Msg("side-store cleanup failed")
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Int64("doc_id", id).Msg("file cleanup failed")
		}
	}
	a.state.Clear(id)

	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// processingStreamHandler streams the ingest progress of one document as
// named SSE events until completion or timeout (~120s).
func (a *App) processingStreamHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid document id")
	}
	ctx := c.Request().Context()

	if _, err := a.db.GetDocument(ctx, id); errors.Is(err, store.ErrNotFound) {
		return detail(c, http.StatusNotFound, "Document not found")
	} else if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to load document")
	}

	prepareSSE(c)

	var last struct {
		stage    string
		progress float64
	}
	haveLast := false

	for i := 0; i < 120; i++ {
		doc, err := a.db.GetDocument(ctx, id)
		if err != nil {
			_ = writeSSEEvent(c, "error", map[string]string{"message": "Document no longer available"})
			return nil
		}
		if doc.Processed {
			_ = writeSSEEvent(c, "complete", map[string]any{
				"doc_id":     id,
				"stage":      "complete",
				"progress":   1.0,
				"message":    "Complete",
				"processed":  true,
				"num_chunks": doc.NumChunks,
				"timestamp":  time.Now(),
			})
			return nil
		}

		if status, ok := a.state.Status(id); ok {
			if !haveLast || status.Stage != last.stage || status.Progress != last.progress {
				_ = writeSSEEvent(c, "progress", status)
				last.stage = status.Stage
				last.progress = status.Progress
				haveLast = true
			}
		} else {
			_ = writeSSEEvent(c, "waiting", map[string]any{
				"doc_id":    id,
				"stage":     "queued",
				"progress":  0.0,
				"message":   "Queued",
				"timestamp": time.Now(),
			})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}

	_ = writeSSEEvent(c, "timeout", map[string]any{"doc_id": id, "message": "Timeout"})
	return nil
}
