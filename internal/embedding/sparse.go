package embedding

import (
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"
)

// SparseVector is the indices/values pair consumed by the vector store's
// sparse index.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

const sparseVocabSize = 30000

// Keeps German umlauts alongside ASCII letters; everything else splits tokens.
var tokenPattern = regexp.MustCompile(`[a-zA-ZäöüÄÖÜß]+`)

// EncodeSparse produces a deterministic TF-hash sparse vector. Tokens of
// length <= 2 are dropped; per-token score is (1+ln(count))/sqrt(total) and
// hash collisions keep the maximum score. Indices come back sorted ascending.
func EncodeSparse(text string) SparseVector {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	filtered := tokens[:0]
	for _, t := range tokens {
		if len([]rune(t)) > 2 {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return SparseVector{Indices: []uint32{}, Values: []float32{}}
	}

	tf := make(map[string]int, len(filtered))
	for _, t := range filtered {
		tf[t]++
	}
	norm := math.Sqrt(float64(len(filtered)))

	scores := make(map[uint32]float32, len(tf))
	for token, count := range tf {
		idx := hashToken(token)
		score := float32((1 + math.Log(float64(count))) / norm)
		if prev, ok := scores[idx]; !ok || score > prev {
			scores[idx] = score
		}
	}

	indices := make([]uint32, 0, len(scores))
	for idx := range scores {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = scores[idx]
	}
	return SparseVector{Indices: indices, Values: values}
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32() % sparseVocabSize
}
