package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSSEFrameFormat(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	prepareSSE(c)

	require.NoError(t, writeSSE(c, map[string]string{"type": "chunk", "content": "hällo"}))

	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	// UTF-8 must survive unescaped in the frame body.
	assert.Equal(t, "data: {\"content\":\"hällo\",\"type\":\"chunk\"}\n\n", rec.Body.String())
}

func TestWriteSSEEventFrameFormat(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	prepareSSE(c)

	require.NoError(t, writeSSEEvent(c, "progress", map[string]any{"stage": "chunking"}))
	assert.Equal(t, "event: progress\ndata: {\"stage\":\"chunking\"}\n\n", rec.Body.String())
}

func TestDetailErrorContract(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/query/stream", nil), rec)

	require.NoError(t, detail(c, http.StatusBadRequest, "No active documents selected for querying."))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"No active documents selected for querying."}`, rec.Body.String())
}

func TestPathID(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("42")

	id, err := pathID(c)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	c.SetParamValues("abc")
	_, err = pathID(c)
	assert.Error(t, err)
}
