// Package rerank scores retrieved chunks against the query with a
// cross-encoder and filters them through an adaptive threshold derived from
// the score distribution.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"docqa/internal/vectorstore"
)

const baseThreshold = 0.2

// Scorer produces one relevance score per document, in input order.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// Service applies cross-encoder scores and the adaptive threshold.
type Service struct {
	scorer Scorer
}

func NewService(scorer Scorer) *Service {
	return &Service{scorer: scorer}
}

// Rerank scores the chunks, sorts them descending, and — when applyThreshold
// is set — filters by the adaptive threshold. A non-empty filtered list gets
// the threshold metadata attached to its first element; an all-filtered list
// falls back to the single best chunk.
func (s *Service) Rerank(ctx context.Context, query string, chunks []vectorstore.Chunk, topK int, applyThreshold bool) ([]vectorstore.Chunk, error) {
	if len(chunks) == 0 {
		return []vectorstore.Chunk{}, nil
	}

	documents := make([]string, len(chunks))
	for i, c := range chunks {
		documents[i] = c.Text
	}
	scores, err := s.scorer.Score(ctx, query, documents)
	if err != nil {
		return nil, fmt.Errorf("rerank scoring: %w", err)
	}
	if len(scores) != len(chunks) {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(scores), len(chunks))
	}

	reranked := make([]vectorstore.Chunk, len(chunks))
	copy(reranked, chunks)
	for i := range reranked {
		reranked[i].RerankScore = scores[i]
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].RerankScore > reranked[j].RerankScore
	})

	if !applyThreshold {
		return capLen(reranked, topK), nil
	}

	sortedScores := make([]float64, len(reranked))
	for i, c := range reranked {
		sortedScores[i] = c.RerankScore
	}
	threshold, reason := dynamicThreshold(sortedScores)
	log.Debug().Float64("threshold", threshold).Str("reason", reason).Int("candidates", len(reranked)).Msg("rerank threshold computed")

	var filtered []vectorstore.Chunk
	for _, c := range reranked {
		if c.RerankScore >= threshold {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) > 0 {
		filtered[0].ThresholdUsed = threshold
		filtered[0].ThresholdReason = reason
		return capLen(filtered, topK), nil
	}
	reranked[0].ThresholdUsed = threshold
	reranked[0].ThresholdReason = "fallback_below_threshold"
	return reranked[:1], nil
}

// dynamicThreshold derives the cutoff from the score distribution. The input
// must already be sorted descending.
func dynamicThreshold(scores []float64) (float64, string) {
	if len(scores) < 2 {
		return baseThreshold, "no_scores"
	}
	maxScore := scores[0]
	mean := meanOf(scores)
	std := stdOf(scores, mean)

	if scores[0]-scores[1] > 0.3 {
		return scores[0] - 0.01, "clear_winner"
	}
	if mean > 0.5 {
		return math.Max(mean-std*0.5, baseThreshold), "high_quality_results"
	}
	if std > 0.2 {
		return math.Max(mean, baseThreshold), "high_variance"
	}
	if maxScore < 0.3 {
		return maxScore * 0.5, "low_quality_all"
	}
	return math.Max(mean-std, baseThreshold), "adaptive"
}

func meanOf(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func stdOf(scores []float64, mean float64) float64 {
	var sum float64
	for _, s := range scores {
		d := s - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(scores)))
}

func capLen(chunks []vectorstore.Chunk, topK int) []vectorstore.Chunk {
	if topK > 0 && len(chunks) > topK {
		return chunks[:topK]
	}
	return chunks
}

// HTTPScorer calls a cross-encoder rerank endpoint speaking the
// {model, query, top_n, documents} protocol.
type HTTPScorer struct {
	host   string
	model  string
	client *http.Client
}

func NewHTTPScorer(host, model string) *HTTPScorer {
	return &HTTPScorer{host: host, model: model, client: &http.Client{}}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (h *HTTPScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	payload, err := json.Marshal(rerankRequest{
		Model:     h.model,
		Query:     query,
		TopN:      len(documents),
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.host, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, result := range parsed.Results {
		if result.Index >= 0 && result.Index < len(scores) {
			scores[result.Index] = result.RelevanceScore
		}
	}
	return scores, nil
}
