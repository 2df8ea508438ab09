package zotero

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"docqa/internal/store"
)

// ItemResult records the outcome for one library item.
type ItemResult struct {
	Status   string `json:"status"` // queued | skipped | failed
	Reason   string `json:"reason,omitempty"`
	ItemKey  string `json:"item_key,omitempty"`
	Filename string `json:"filename,omitempty"`
	DocID    int64  `json:"doc_id,omitempty"`
}

// SyncResult aggregates one sync run.
type SyncResult struct {
	Synced  int          `json:"synced"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Details []ItemResult `json:"details"`
}

func (r *SyncResult) record(item ItemResult) {
	switch item.Status {
	case "queued":
		r.Synced++
	case "skipped":
		r.Skipped++
	default:
		r.Failed++
	}
	r.Details = append(r.Details, item)
}

// SyncService downloads library attachments into the staging directory and
// enqueues Document rows. It never processes documents; the worker picks
// them up.
type SyncService struct {
	client      *Client
	db          *store.Store
	downloadDir string
}

func NewSyncService(client *Client, db *store.Store, downloadDir string) *SyncService {
	return &SyncService{client: client, db: db, downloadDir: downloadDir}
}

// Enabled reports whether the underlying client is configured.
func (s *SyncService) Enabled() bool { return s.client.Enabled() }

// Client exposes the underlying API client for status endpoints.
func (s *SyncService) Client() *Client { return s.client }

// SyncAll walks every library item.
func (s *SyncService) SyncAll(ctx context.Context) (SyncResult, error) {
	result := SyncResult{Details: []ItemResult{}}
	if !s.client.Enabled() {
		log.Warn().Msg("zotero not configured")
		return result, nil
	}

	items, err := s.client.ListItems(ctx)
	if err != nil {
		return result, err
	}
	for _, item := range items {
		result.record(s.syncItem(ctx, item))
	}
	log.Info().Int("synced", result.Synced).Int("skipped", result.Skipped).Int("failed", result.Failed).Msg("zotero sync complete")
	return result, nil
}

// SyncNewOnly only considers attachments whose filename is not yet known.
func (s *SyncService) SyncNewOnly(ctx context.Context) (SyncResult, error) {
	result := SyncResult{Details: []ItemResult{}}
	if !s.client.Enabled() {
		return result, nil
	}

	existing, err := s.existingFilenames(ctx)
	if err != nil {
		return result, err
	}
	items, err := s.client.ListItems(ctx)
	if err != nil {
		return result, err
	}

	for _, item := range items {
		if item.Data.ItemType != "attachment" {
			continue
		}
		filename := item.Data.AttachmentFilename()
		if filename == "" {
			continue
		}
		if _, known := existing[filename]; known {
			continue
		}
		result.record(s.syncItem(ctx, item))
	}
	log.Info().Int("queued", result.Synced).Msg("zotero new-only sync complete")
	return result, nil
}

// NewItemCount reports how many PDF attachments are not yet in the database.
func (s *SyncService) NewItemCount(ctx context.Context) (int, error) {
	existing, err := s.existingFilenames(ctx)
	if err != nil {
		return 0, err
	}
	items, err := s.client.ListItems(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range items {
		if item.Data.ItemType != "attachment" {
			continue
		}
		filename := item.Data.AttachmentFilename()
		if filename == "" || !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
			continue
		}
		if _, known := existing[filename]; !known {
			log.Info().Str("filename", filename).Msg("new document found in zotero")
			count++
		}
	}
	return count, nil
}

func (s *SyncService) existingFilenames(ctx context.Context) (map[string]struct{}, error) {
	docs, err := s.db.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		existing[doc.Filename] = struct{}{}
	}
	return existing, nil
}

func (s *SyncService) syncItem(ctx context.Context, item Item) ItemResult {
	data := item.Data
	if data.ItemType != "attachment" {
		return ItemResult{Status: "skipped", Reason: "not_attachment", ItemKey: data.Key}
	}

	filename := data.AttachmentFilename()
	if filename == "" {
		filename = "unknown.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return ItemResult{Status: "skipped", Reason: "not_pdf", ItemKey: data.Key, Filename: filename}
	}

	existing, err := s.db.GetDocumentByFilename(ctx, filename)
	if err == nil && existing.Processed {
		return ItemResult{Status: "skipped", Reason: "already_exists", ItemKey: data.Key, Filename: filename, DocID: existing.ID}
	}

	filePath, err := s.client.DownloadItem(ctx, data.Key, filename, s.downloadDir)
	if err != nil {
		log.Error().Err(err).Str("filename", filename).Msg("zotero download failed")
		return ItemResult{Status: "failed", Reason: "download_failed", ItemKey: data.Key, Filename: filename}
	}
	if _, statErr := os.Stat(filePath); statErr != nil {
		return ItemResult{Status: "failed", Reason: "download_failed", ItemKey: data.Key, Filename: filename}
	}

	var doc store.Document
	if existing.ID != 0 {
		if err := s.db.UpdateFilePath(ctx, existing.ID, filePath); err != nil {
			return ItemResult{Status: "failed", Reason: err.Error(), ItemKey: data.Key, Filename: filename}
		}
		doc = existing
		doc.FilePath = filePath
	} else {
		doc, err = s.db.CreateDocument(ctx, filename, filePath, true)
		if err != nil {
			return ItemResult{Status: "failed", Reason: err.Error(), ItemKey: data.Key, Filename: filename}
		}
	}

	log.Info().Int64("doc_id", doc.ID).Str("filename", filename).Msg("zotero document queued")
	return ItemResult{Status: "queued", ItemKey: data.Key, Filename: filepath.Base(filename), DocID: doc.ID}
}
