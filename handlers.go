// docqa/handlers.go

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"docqa/internal/store"
)

// detail writes the error contract body {detail: "..."}.
func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func pathID(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

// writeSSE writes one data-only SSE frame and flushes it.
func writeSSE(c echo.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// writeSSEEvent writes a named SSE event frame and flushes it.
func writeSSEEvent(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

func prepareSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
}

func (a *App) rootHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Document QA API",
		"version": "1.0.0",
	})
}

func (a *App) healthHandler(c echo.Context) error {
	hits, misses := a.embeddings.CacheStats()
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"services": map[string]any{
			"document_worker": map[string]any{
				"running":          a.worker.Running(),
				"interval_seconds": a.worker.Interval().Seconds(),
			},
			"zotero_poller": map[string]any{
				"running":          a.poller.Running(),
				"interval_seconds": a.poller.Interval().Seconds(),
			},
			"zotero_connection": map[string]any{
				"enabled": a.zoteroSync.Enabled(),
			},
			"embedding_cache": map[string]any{
				"hits":   hits,
				"misses": misses,
			},
		},
	})
}

// ---------- chats ----------

type chatCreateRequest struct {
	Title string `json:"title"`
}

func (a *App) createChatHandler(c echo.Context) error {
	var req chatCreateRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body")
	}
	chat, err := a.db.CreateChat(c.Request().Context(), req.Title)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to create chat")
	}
	return c.JSON(http.StatusOK, chat)
}

func (a *App) listChatsHandler(c echo.Context) error {
	chats, err := a.db.ListChats(c.Request().Context())
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to list chats")
	}
	return c.JSON(http.StatusOK, chats)
}

func (a *App) getChatHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid chat id")
	}
	chat, err := a.db.GetChat(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return detail(c, http.StatusNotFound, "Chat not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to load chat")
	}
	return c.JSON(http.StatusOK, chat)
}

func (a *App) deleteChatHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid chat id")
	}
	err = a.db.DeleteChat(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return detail(c, http.StatusNotFound, "Chat not found")
	}
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to delete chat")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *App) listMessagesHandler(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return detail(c, http.StatusBadRequest, "Invalid chat id")
	}
	msgs, err := a.db.ListMessages(c.Request().Context(), id)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Failed to list messages")
	}
	return c.JSON(http.StatusOK, msgs)
}
