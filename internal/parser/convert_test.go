package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPConverterSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "doc.pdf", header.Filename)

		_ = json.NewEncoder(w).Encode(convertResponse{Markdown: "# Converted\n\n|a|b|"})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))

	conv := NewHTTPConverter(srv.URL)
	text, err := conv.Convert(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "# Converted\n\n|a|b|", text)
}

func TestHTTPConverterTextFallbackField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(convertResponse{Text: "plain text only"})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	conv := NewHTTPConverter(srv.URL)
	text, err := conv.Convert(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "plain text only", text)
}

func TestHTTPConverterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "conversion backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	conv := NewHTTPConverter(srv.URL)
	_, err := conv.Convert(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
