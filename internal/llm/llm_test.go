package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveProviderFallback(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit wins", Config{Provider: "openai", AnthropicAPIKey: "x"}, "openai"},
		{"anthropic key preferred", Config{AnthropicAPIKey: "x", OpenAIAPIKey: "y"}, "anthropic"},
		{"openai key next", Config{OpenAIAPIKey: "y"}, "openai"},
		{"ollama default", Config{}, "ollama"},
		{"unknown explicit ignored", Config{Provider: "mistral", OpenAIAPIKey: "y"}, "openai"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ActiveProvider())
		})
	}
}

func TestOllamaInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "hi there"},
			Done:    true,
		})
	}))
	defer srv.Close()

	p := newOllama(Config{OllamaBaseURL: srv.URL, Options: Options{Model: "test-model"}})
	out, err := p.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		bw := bufio.NewWriter(w)
		for _, token := range []string{"one ", "two ", "three"} {
			chunk, _ := json.Marshal(ollamaChatResponse{Message: ollamaMessage{Content: token}})
			_, _ = bw.Write(chunk)
			_, _ = bw.WriteString("\n")
		}
		final, _ := json.Marshal(ollamaChatResponse{Done: true})
		_, _ = bw.Write(final)
		_, _ = bw.WriteString("\n")
		_ = bw.Flush()
	}))
	defer srv.Close()

	p := newOllama(Config{OllamaBaseURL: srv.URL, Options: Options{Model: "m"}})
	var got strings.Builder
	err := p.Stream(context.Background(), []Message{{Role: RoleUser, Content: "count"}}, func(token string) error {
		got.WriteString(token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", got.String())
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := newOllama(Config{OllamaBaseURL: srv.URL, Options: Options{Model: "missing"}})
	_, err := p.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
