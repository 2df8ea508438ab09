// Package embedding produces the dense and sparse representations stored in
// the vector store. Dense vectors come from an OpenAI-compatible embeddings
// endpoint and are cached in a size-bounded LRU keyed by the md5 of the
// input text; sparse vectors are computed locally (TF-hash).
package embedding

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Encoder is the dense encoder behind the service. Split out so tests can
// substitute a deterministic implementation.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Service wraps the encoder with caching and sparse encoding.
type Service struct {
	encoder Encoder
	cache   *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewService builds the service with a cache of cacheSize entries.
func NewService(encoder Encoder, cacheSize int) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Service{encoder: encoder, cache: cache}, nil
}

// Dimension reports the dense vector dimension.
func (s *Service) Dimension() int { return s.encoder.Dimension() }

// Warmup forces the backing model to load by encoding one synthetic input.
func (s *Service) Warmup(ctx context.Context) error {
	_, err := s.encoder.Encode(ctx, []string{"warmup"})
	if err != nil {
		return fmt.Errorf("embedding warmup: %w", err)
	}
	log.Info().Int("dimension", s.Dimension()).Msg("embedding model warmed up")
	return nil
}

// EmbedText returns the dense vector for one text, from cache when possible.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts batch-encodes: cache hits are served directly, only misses go to
// the encoder, and results are reassembled in input order.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := cacheKey(text)
		if vec, ok := s.cache.Get(key); ok {
			s.hits.Add(1)
			out[i] = vec
			continue
		}
		s.misses.Add(1)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		encoded, err := s.encoder.Encode(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(encoded) != len(missTexts) {
			return nil, fmt.Errorf("encoder returned %d vectors for %d inputs", len(encoded), len(missTexts))
		}
		for j, i := range missIdx {
			out[i] = encoded[j]
			s.cache.Add(cacheKey(texts[i]), encoded[j])
		}
	}
	return out, nil
}

// EmbedSparse produces the TF-hash sparse vector for one text.
func (s *Service) EmbedSparse(text string) SparseVector {
	return EncodeSparse(text)
}

// CacheStats returns the lifetime hit/miss counters.
func (s *Service) CacheStats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

func cacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HTTPEncoder calls an OpenAI-compatible /v1/embeddings endpoint.
type HTTPEncoder struct {
	host      string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
}

// NewHTTPEncoder points at the embeddings host (full URL of the endpoint).
func NewHTTPEncoder(host, apiKey, model string, dimension int) *HTTPEncoder {
	return &HTTPEncoder{
		host:      host,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		client:    &http.Client{},
	}
}

func (e *HTTPEncoder) Dimension() int { return e.dimension }

type embeddingsRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *HTTPEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("embeddings endpoint returned out-of-range index %d", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
