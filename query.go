// docqa/query.go

package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"docqa/internal/llm"
	"docqa/internal/rag"
	"docqa/internal/store"
)

const noResultsAnswer = "I couldn't find relevant information in the documents to answer your question."

type queryRequest struct {
	ChatID int64  `json:"chat_id"`
	Query  string `json:"query"`
}

type retrievalResult struct {
	contexts []string
	sources  []rag.Source
	err      error
}

// queryStreamHandler runs retrieval concurrently with the SSE loop: thinking
// events stream out while retrieval progresses, then the answer tokens
// follow, closed by a terminal end (or error) event.
func (a *App) queryStreamHandler(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "Invalid request body")
	}
	ctx := c.Request().Context()

	if _, err := a.db.GetChat(ctx, req.ChatID); errors.Is(err, store.ErrNotFound) {
		return detail(c, http.StatusNotFound, "Chat not found")
	} else if err != nil {
		return detail(c, http.StatusInternalServerError, "Error processing query")
	}

	messages, err := a.db.ListMessages(ctx, req.ChatID)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Error processing query")
	}
	chatHistory := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		chatHistory = append(chatHistory, llm.Message{Role: m.Role, Content: m.Content})
	}

	activeMap, err := a.activeCollectionMap(ctx)
	if err != nil {
		return detail(c, http.StatusInternalServerError, "Error processing query")
	}
	if len(activeMap) == 0 {
		return detail(c, http.StatusBadRequest, "No active documents selected for querying.")
	}

	if _, err := a.db.CreateMessage(ctx, req.ChatID, "user", req.Query); err != nil {
		return detail(c, http.StatusInternalServerError, "Error processing query")
	}

	prepareSSE(c)

	// The retrieval task is a sibling of the request, not a child: on client
	// disconnect we cancel it explicitly instead of relying on the request
	// context.
	retrievalCtx, cancelRetrieval := context.WithCancel(context.Background())
	defer cancelRetrieval()

	events := make(chan rag.ThinkingStep, 256)
	done := make(chan struct{})
	var result retrievalResult

	go func() {
		defer close(done)
		contexts, sources, _, err := a.rag.MultiQueryRetrieveAndRerank(
			retrievalCtx,
			req.Query,
			activeMap,
			func(step rag.ThinkingStep) {
				select {
				case events <- step:
				case <-retrievalCtx.Done():
				}
			},
		)
		result = retrievalResult{contexts: contexts, sources: sources, err: err}
	}()

	// Thinking phase: forward events until retrieval finishes, then drain.
waitRetrieval:
	for {
		select {
		case step := <-events:
			_ = writeSSE(c, map[string]any{"type": "thinking", "step": step})
		case <-done:
			for {
				select {
				case step := <-events:
					_ = writeSSE(c, map[string]any{"type": "thinking", "step": step})
				default:
					break waitRetrieval
				}
			}
		case <-ctx.Done():
			cancelRetrieval()
			return nil
		}
	}

	if result.err != nil {
		log.Error().Err(result.err).Int64("chat_id", req.ChatID).Msg("retrieval failed")
		_ = writeSSE(c, map[string]string{"type": "error", "message": "Error processing query"})
		return nil
	}

	if len(result.contexts) == 0 {
		assistant, err := a.db.CreateMessage(ctx, req.ChatID, "assistant", noResultsAnswer)
		if err != nil {
			_ = writeSSE(c, map[string]string{"type": "error", "message": "Error processing query"})
			return nil
		}
		_ = writeSSE(c, map[string]any{
			"type":       "end",
			"content":    noResultsAnswer,
			"sources":    []rag.Source{},
			"message_id": assistant.ID,
		})
		return nil
	}

	accumulated := ""
	err = a.rag.GenerateAnswerStream(ctx, req.Query, result.contexts, chatHistory, func(token string) error {
		accumulated += token
		return writeSSE(c, map[string]string{"type": "chunk", "content": token})
	})
	if err != nil {
		log.Error().Err(err).Int64("chat_id", req.ChatID).Msg("answer generation failed")
		_ = writeSSE(c, map[string]string{"type": "error", "message": "Error processing query"})
		return nil
	}

	assistant, err := a.db.CreateMessage(ctx, req.ChatID, "assistant", accumulated)
	if err != nil {
		_ = writeSSE(c, map[string]string{"type": "error", "message": "Error processing query"})
		return nil
	}
	_ = writeSSE(c, map[string]any{
		"type":       "end",
		"content":    accumulated,
		"sources":    result.sources,
		"message_id": assistant.ID,
	})
	return nil
}
