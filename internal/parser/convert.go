package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// HTTPConverter posts a PDF to a layout-aware conversion service and reads
// back Markdown with tables preserved. The service is optional; callers fall
// back to plain page extraction when it is unreachable.
type HTTPConverter struct {
	host   string
	client *http.Client
}

func NewHTTPConverter(host string) *HTTPConverter {
	return &HTTPConverter{host: host, client: &http.Client{}}
}

type convertResponse struct {
	Markdown string `json:"markdown"`
	Text     string `json:"text"`
}

func (c *HTTPConverter) Convert(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("conversion failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode conversion response: %w", err)
	}
	if parsed.Markdown != "" {
		return parsed.Markdown, nil
	}
	return parsed.Text, nil
}
