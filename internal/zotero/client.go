// Package zotero integrates the reference-library provider: a read-only
// API client, a sync service that enqueues new attachments, and a periodic
// poller.
package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const apiBase = "https://api.zotero.org"

// Item is one library entry as returned by the items API.
type Item struct {
	Data ItemData `json:"data"`
}

// ItemData carries the fields the sync path needs.
type ItemData struct {
	Key      string `json:"key"`
	ItemType string `json:"itemType"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
}

// AttachmentFilename returns the attachment filename, falling back to the
// item title.
func (d ItemData) AttachmentFilename() string {
	if d.Filename != "" {
		return d.Filename
	}
	return d.Title
}

// Client is the read-only API client. The limiter keeps the poller within
// the provider's rate expectations.
type Client struct {
	libraryID   string
	libraryType string
	apiKey      string
	http        *http.Client
	limiter     *rate.Limiter
}

// Config holds the library credentials; any empty field disables the client.
type Config struct {
	LibraryID   string
	LibraryType string // "user" or "group"
	APIKey      string
}

func NewClient(cfg Config) *Client {
	if cfg.LibraryID == "" || cfg.LibraryType == "" || cfg.APIKey == "" {
		log.Warn().Msg("zotero credentials not configured, service disabled")
		return &Client{}
	}
	log.Info().Str("library", cfg.LibraryID).Msg("zotero client initialized")
	return &Client{
		libraryID:   cfg.LibraryID,
		libraryType: cfg.LibraryType,
		apiKey:      cfg.APIKey,
		http:        &http.Client{},
		limiter:     rate.NewLimiter(rate.Limit(2), 4),
	}
}

// Enabled reports whether credentials were configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

func (c *Client) libraryURL(path string) string {
	return fmt.Sprintf("%s/%ss/%s%s", apiBase, c.libraryType, c.libraryID, path)
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Zotero-API-Key", c.apiKey)
	req.Header.Set("Zotero-API-Version", "3")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("zotero request failed with status %d: %s", resp.StatusCode, body)
	}
	return resp, nil
}

// ListItems enumerates the library's top-level items, following pagination.
func (c *Client) ListItems(ctx context.Context) ([]Item, error) {
	if !c.Enabled() {
		return nil, nil
	}

	const pageSize = 100
	var all []Item
	for start := 0; ; start += pageSize {
		url := c.libraryURL("/items/top?format=json&limit=" + strconv.Itoa(pageSize) + "&start=" + strconv.Itoa(start))
		resp, err := c.get(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("list zotero items: %w", err)
		}
		var page []Item
		err = json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode zotero items: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}
	log.Info().Int("items", len(all)).Msg("retrieved zotero items")
	return all, nil
}

// DownloadItem fetches the attachment content for a key into outputDir and
// returns the file path.
func (c *Client) DownloadItem(ctx context.Context, key, filename, outputDir string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("zotero client disabled")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	resp, err := c.get(ctx, c.libraryURL("/items/"+key+"/file"))
	if err != nil {
		return "", fmt.Errorf("download zotero item %s: %w", key, err)
	}
	defer resp.Body.Close()

	path := filepath.Join(outputDir, filepath.Base(filename))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write download file: %w", err)
	}
	log.Info().Str("key", key).Str("path", path).Msg("downloaded zotero item")
	return path, nil
}
