// docqa/zotero.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"docqa/internal/zotero"
)

func (a *App) zoteroSyncHandler(c echo.Context) error {
	return a.runZoteroSync(c, a.zoteroSync.SyncAll)
}

func (a *App) zoteroSyncNewHandler(c echo.Context) error {
	return a.runZoteroSync(c, a.zoteroSync.SyncNewOnly)
}

func (a *App) runZoteroSync(c echo.Context, sync func(ctx context.Context) (zotero.SyncResult, error)) error {
	if !a.zoteroSync.Enabled() {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "error",
			"message": "Zotero not configured",
		})
	}

	result, err := sync(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("zotero sync failed")
		return detail(c, http.StatusInternalServerError, "Zotero sync failed")
	}

	if result.Synced > 0 {
		a.worker.Trigger()
		log.Info().Int("queued", result.Synced).Msg("worker triggered after zotero sync")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":  "completed",
		"message": fmt.Sprintf("Sync completed: %d synced, %d skipped, %d failed", result.Synced, result.Skipped, result.Failed),
		"details": result,
	})
}

func (a *App) zoteroStatusHandler(c echo.Context) error {
	if !a.zoteroSync.Enabled() {
		return c.JSON(http.StatusOK, map[string]any{
			"enabled": false,
			"message": "Zotero not configured",
		})
	}

	items, err := a.zoteroSync.Client().ListItems(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get zotero status")
		return c.JSON(http.StatusOK, map[string]any{
			"enabled": true,
			"error":   err.Error(),
		})
	}

	pdfCount := 0
	for _, item := range items {
		if item.Data.ItemType != "attachment" {
			continue
		}
		if strings.HasSuffix(strings.ToLower(item.Data.AttachmentFilename()), ".pdf") {
			pdfCount++
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"enabled":         true,
		"total_items":     len(items),
		"pdf_attachments": pdfCount,
	})
}
