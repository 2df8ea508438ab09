package rerank

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/vectorstore"
)

// mapScorer scores each document by parsing its text as a float.
type mapScorer struct{}

func (mapScorer) Score(_ context.Context, _ string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))
	for i, d := range documents {
		f, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return nil, err
		}
		scores[i] = f
	}
	return scores, nil
}

func chunksWithScores(scores ...float64) []vectorstore.Chunk {
	out := make([]vectorstore.Chunk, len(scores))
	for i, s := range scores {
		out[i] = vectorstore.Chunk{Text: strconv.FormatFloat(s, 'f', -1, 64), ChunkID: i}
	}
	return out
}

func TestRerankEmptyInput(t *testing.T) {
	svc := NewService(mapScorer{})
	out, err := svc.Rerank(context.Background(), "q", nil, 5, true)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRerankClearWinner(t *testing.T) {
	svc := NewService(mapScorer{})
	out, err := svc.Rerank(context.Background(), "q", chunksWithScores(0.55, 0.9, 0.54, 0.50, 0.48), 5, true)
	require.NoError(t, err)

	// Gap 0.9-0.55 > 0.3: only the top survives the threshold 0.89.
	require.Len(t, out, 1)
	assert.InDelta(t, 0.9, out[0].RerankScore, 1e-9)
	assert.Equal(t, "clear_winner", out[0].ThresholdReason)
	assert.InDelta(t, 0.89, out[0].ThresholdUsed, 1e-9)
}

func TestRerankLowQualityBranch(t *testing.T) {
	threshold, reason := dynamicThreshold([]float64{0.2, 0.18, 0.15})
	assert.Equal(t, "low_quality_all", reason)
	assert.InDelta(t, 0.1, threshold, 1e-9)
}

func TestRerankHighQualityBranch(t *testing.T) {
	threshold, reason := dynamicThreshold([]float64{0.8, 0.75, 0.7})
	assert.Equal(t, "high_quality_results", reason)
	assert.Greater(t, threshold, baseThreshold)
}

func TestRerankSingleScoreUsesBase(t *testing.T) {
	threshold, reason := dynamicThreshold([]float64{0.6})
	assert.Equal(t, "no_scores", reason)
	assert.InDelta(t, baseThreshold, threshold, 1e-9)
}

func TestRerankAttachesThresholdMetadata(t *testing.T) {
	svc := NewService(mapScorer{})
	out, err := svc.Rerank(context.Background(), "q", chunksWithScores(0.25, 0.1), 5, true)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "low_quality_all", out[0].ThresholdReason)
	assert.InDelta(t, 0.125, out[0].ThresholdUsed, 1e-9)
}

func TestRerankWithoutThreshold(t *testing.T) {
	svc := NewService(mapScorer{})
	out, err := svc.Rerank(context.Background(), "q", chunksWithScores(0.1, 0.9, 0.5), 2, false)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDelta(t, 0.9, out[0].RerankScore, 1e-9)
	assert.InDelta(t, 0.5, out[1].RerankScore, 1e-9)
}

func TestRerankIdempotent(t *testing.T) {
	svc := NewService(mapScorer{})
	ctx := context.Background()

	first, err := svc.Rerank(ctx, "q", chunksWithScores(0.45, 0.48, 0.41, 0.46), 4, false)
	require.NoError(t, err)
	second, err := svc.Rerank(ctx, "q", first, 4, false)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
	}
}
