package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ollamaProvider talks to a local Ollama daemon over its /api/chat endpoint.
type ollamaProvider struct {
	baseURL string
	client  *http.Client
	opts    Options
}

func newOllama(cfg Config) *ollamaProvider {
	base := strings.TrimSuffix(cfg.OllamaBaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	return &ollamaProvider{
		baseURL: base,
		client:  &http.Client{Timeout: cfg.Options.Timeout},
		opts:    cfg.Options,
	}
}

type ollamaChatRequest struct {
	Model    string             `json:"model"`
	Messages []ollamaMessage    `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  map[string]float64 `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

func (p *ollamaProvider) request(ctx context.Context, msgs []Message, stream bool) (*http.Response, error) {
	converted := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		converted = append(converted, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	payload := ollamaChatRequest{
		Model:    p.opts.Model,
		Messages: converted,
		Stream:   stream,
		Options:  map[string]float64{"temperature": p.opts.Temperature},
	}
	if p.opts.MaxTokens > 0 {
		payload.Options["num_predict"] = float64(p.opts.MaxTokens)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ollama chat failed with status %d: %s", resp.StatusCode, msg)
	}
	return resp, nil
}

func (p *ollamaProvider) Invoke(ctx context.Context, msgs []Message) (string, error) {
	resp, err := p.request(ctx, msgs, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Message.Content, nil
}

func (p *ollamaProvider) Stream(ctx context.Context, msgs []Message, onToken func(string) error) error {
	resp, err := p.request(ctx, msgs, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode ollama stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			if err := onToken(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}
