// Package rag implements the retrieval orchestrator: up to three rounds of
// LLM query expansion over the hybrid vector search, metadata-chunk
// injection, cross-encoder reranking with quality gates, parent-context
// loading with neighbor windowing, and the streaming answer generator.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"docqa/internal/llm"
	"docqa/internal/rerank"
	"docqa/internal/sidestore"
	"docqa/internal/store"
	"docqa/internal/vectorstore"
)

const (
	// minAcceptableScore gates a second retrieval round.
	minAcceptableScore = 0.4
	// goodScore ends retrieval early.
	goodScore = 0.5

	refinementSnippetChars = 500
)

const answerSystemPrompt = "You are a helpful assistant that answers questions based on the provided context. " +
	"Use the context to answer the question accurately. If the context doesn't contain " +
	"enough information to answer the question, say so."

// ThinkingStep is one out-of-band retrieval progress event.
type ThinkingStep struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Source describes one answer context for the client.
type Source struct {
	Label   string `json:"label"`
	Content string `json:"content"`
}

// Options tunes retrieval.
type Options struct {
	TopKRetrieval           int
	TopKRerank              int
	EnableNeighborExpansion bool
	NeighborWindow          int
	ExpansionCacheSize      int
	ExpansionCacheTTL       time.Duration
}

// DocumentGetter resolves documents by id; satisfied by the store.
type DocumentGetter interface {
	GetDocument(ctx context.Context, id int64) (store.Document, error)
}

// Service is the orchestrator.
type Service struct {
	vectors  *vectorstore.Service
	reranker *rerank.Service
	side     *sidestore.Store
	db       DocumentGetter
	provider llm.Provider
	opts     Options

	expansionCache *expirable.LRU[string, []string]
}

func NewService(
	vectors *vectorstore.Service,
	reranker *rerank.Service,
	side *sidestore.Store,
	db DocumentGetter,
	provider llm.Provider,
	opts Options,
) *Service {
	if opts.TopKRetrieval <= 0 {
		opts.TopKRetrieval = 20
	}
	if opts.TopKRerank <= 0 {
		opts.TopKRerank = 6
	}
	if opts.ExpansionCacheSize <= 0 {
		opts.ExpansionCacheSize = 1000
	}
	if opts.ExpansionCacheTTL <= 0 {
		opts.ExpansionCacheTTL = time.Hour
	}
	return &Service{
		vectors:        vectors,
		reranker:       reranker,
		side:           side,
		db:             db,
		provider:       provider,
		opts:           opts,
		expansionCache: expirable.NewLRU[string, []string](opts.ExpansionCacheSize, nil, opts.ExpansionCacheTTL),
	}
}

// MultiQueryRetrieveAndRerank runs the multi-round retrieval for one query.
// onThinking, when non-nil, receives every step as it is produced.
func (s *Service) MultiQueryRetrieveAndRerank(
	ctx context.Context,
	originalQuery string,
	activeMap map[int64]string,
	onThinking func(ThinkingStep),
) (contexts []string, sources []Source, steps []ThinkingStep, err error) {
	emit := func(stepType, message string, details any) {
		step := ThinkingStep{Type: stepType, Message: message, Details: details}
		steps = append(steps, step)
		if onThinking != nil {
			onThinking(step)
		}
	}

	emit("start", "Starting multi-query retrieval...", nil)
	emit("round1_start", "Round 1: generating query variations...", nil)

	variations := s.queryVariations(ctx, originalQuery)
	emit("queries_generated", "Generated query variations", variations)

	accumulated := newChunkPool()
	s.searchVariations(ctx, variations, activeMap, accumulated, emit, "")
	emit("deduplication", fmt.Sprintf("Total unique chunks after deduplication: %d", accumulated.Len()), nil)

	s.injectMetadataChunks(ctx, activeMap, accumulated, emit)

	var reranked []vectorstore.Chunk
	best := 0.0
	if accumulated.Len() > 0 {
		emit("reranking", fmt.Sprintf("Reranking %d chunks...", accumulated.Len()), nil)
		reranked, err = s.reranker.Rerank(ctx, originalQuery, accumulated.Chunks(), s.opts.TopKRerank, true)
		if err != nil {
			return nil, nil, steps, err
		}
		best = bestScore(reranked)
		emit("rerank_complete", fmt.Sprintf("Best rerank score: %.3f", best), topPreview(reranked))

		if best >= goodScore {
			contexts, sources = s.loadParents(ctx, reranked, emit)
			emit("complete", fmt.Sprintf("Retrieved %d parent contexts", len(contexts)), nil)
			return contexts, sources, steps, nil
		}
	} else {
		emit("no_results", "No chunks found in round 1", nil)
	}

	if best < minAcceptableScore {
		reranked, best, err = s.roundTwo(ctx, originalQuery, activeMap, accumulated, reranked, best, emit)
		if err != nil {
			return nil, nil, steps, err
		}
	}

	if len(reranked) == 0 {
		emit("no_results_final", "No relevant chunks found after all retrieval rounds", nil)
		return []string{}, []Source{}, steps, nil
	}

	contexts, sources = s.loadParents(ctx, reranked, emit)
	emit("complete", fmt.Sprintf("Retrieved %d parent contexts", len(contexts)), nil)
	return contexts, sources, steps, nil
}

// roundTwo retries with alternative formulations and optionally escalates to
// the round-three refinement.
func (s *Service) roundTwo(
	ctx context.Context,
	originalQuery string,
	activeMap map[int64]string,
	accumulated *chunkPool,
	previous []vectorstore.Chunk,
	previousBest float64,
	emit func(string, string, any),
) ([]vectorstore.Chunk, float64, error) {
	emit("round2_start", "Round 2: generating alternative query formulations...", nil)

	alternatives := s.alternativeQueries(ctx, originalQuery)
	emit("queries_generated", "Generated alternative queries", alternatives)

	s.searchVariations(ctx, alternatives, activeMap, accumulated, emit, "alternative ")
	s.injectMetadataChunks(ctx, activeMap, accumulated, emit)

	if accumulated.Len() == 0 {
		emit("no_results", "Still no results after round 2", nil)
		return previous, previousBest, nil
	}

	emit("reranking", fmt.Sprintf("Reranking %d accumulated chunks...", accumulated.Len()), nil)
	reranked, err := s.reranker.Rerank(ctx, originalQuery, accumulated.Chunks(), s.opts.TopKRerank, true)
	if err != nil {
		return nil, 0, err
	}
	best := bestScore(reranked)
	emit("rerank_complete", fmt.Sprintf("Round 2 best rerank score: %.3f", best), nil)

	if best >= goodScore {
		return reranked, best, nil
	}
	improvement := best - previousBest
	if improvement > 0 && best < goodScore {
		return s.roundThree(ctx, originalQuery, activeMap, accumulated, reranked, emit)
	}
	return reranked, best, nil
}

// roundThree refines the query with the content of the current best chunk.
func (s *Service) roundThree(
	ctx context.Context,
	originalQuery string,
	activeMap map[int64]string,
	accumulated *chunkPool,
	previous []vectorstore.Chunk,
	emit func(string, string, any),
) ([]vectorstore.Chunk, float64, error) {
	emit("round3_start", "Round 3: refining queries with the best match so far...", nil)

	snippet := ""
	if len(previous) > 0 {
		snippet = truncateRunes(previous[0].Text, refinementSnippetChars)
	}
	refined := s.refinedQueries(ctx, originalQuery, snippet)
	emit("queries_generated", "Generated refined queries", refined)

	s.searchVariations(ctx, refined, activeMap, accumulated, emit, "refined ")
	s.injectMetadataChunks(ctx, activeMap, accumulated, emit)

	emit("reranking", fmt.Sprintf("Final rerank over %d chunks...", accumulated.Len()), nil)
	reranked, err := s.reranker.Rerank(ctx, originalQuery, accumulated.Chunks(), s.opts.TopKRerank, true)
	if err != nil {
		return nil, 0, err
	}
	best := bestScore(reranked)
	emit("rerank_complete", fmt.Sprintf("Round 3 best rerank score: %.3f", best), nil)
	return reranked, best, nil
}

func (s *Service) searchVariations(
	ctx context.Context,
	queries []string,
	activeMap map[int64]string,
	pool *chunkPool,
	emit func(string, string, any),
	kind string,
) {
	for i, query := range queries {
		emit("searching", fmt.Sprintf("Searching with %squery %d: %q", kind, i+1, truncateRunes(query, 80)), nil)
		chunks, err := s.vectors.Search(ctx, query, activeMap, s.opts.TopKRetrieval)
		if err != nil {
			log.Warn().Err(err).Str("query", query).Msg("search failed for variation")
			continue
		}
		added := 0
		for _, chunk := range chunks {
			if pool.Add(chunkKey(chunk), chunk) {
				added++
			}
		}
		emit("search_complete", fmt.Sprintf("Query %d returned %d chunks (%d new)", i+1, len(chunks), added), nil)
	}
}

// injectMetadataChunks adds every active document's metadata chunk that the
// accumulated set does not already contain.
func (s *Service) injectMetadataChunks(ctx context.Context, activeMap map[int64]string, pool *chunkPool, emit func(string, string, any)) {
	metadataChunks := s.vectors.GetMetadataChunksForDocs(ctx, activeMap)
	injected := 0
	for _, chunk := range metadataChunks {
		if pool.HasMetadataFor(chunk.DocID) {
			continue
		}
		chunk.MetadataPriority = true
		if pool.Add(fmt.Sprintf("meta_%d_%d", chunk.DocID, chunk.ChunkID), chunk) {
			injected++
		}
	}
	if injected > 0 {
		emit("metadata_injection", fmt.Sprintf("Injected %d metadata chunks", injected), nil)
	}
}

// queryVariations returns the three round-one variations, served from the
// TTL cache when the query was expanded before. Failures fall back to the
// original query.
func (s *Service) queryVariations(ctx context.Context, originalQuery string) []string {
	if cached, ok := s.expansionCache.Get(originalQuery); ok {
		return cached
	}
	variations := s.expand(ctx, originalQuery,
		"You are a query expansion assistant. Given a user question, generate exactly 3 different "+
			"variations of the question that might help find relevant information. Each variation should "+
			"approach the question from a different angle or use different keywords.\n\n"+
			"Return ONLY the 3 queries, one per line, without numbering or bullets.",
		"Original question: "+originalQuery)
	s.expansionCache.Add(originalQuery, variations)
	return variations
}

func (s *Service) alternativeQueries(ctx context.Context, originalQuery string) []string {
	return s.expand(ctx, originalQuery,
		"The previous search queries did not find good results. Generate 3 completely different "+
			"formulations of the question using synonyms, related concepts, or breaking down the question "+
			"into sub-questions. Be creative and try different approaches.\n\n"+
			"Return ONLY the 3 queries, one per line, without numbering or bullets.",
		"Original question: "+originalQuery)
}

func (s *Service) refinedQueries(ctx context.Context, originalQuery, topChunk string) []string {
	user := "Original question: " + originalQuery
	if topChunk != "" {
		user += "\n\nMost relevant passage found so far:\n" + topChunk
	}
	return s.expand(ctx, originalQuery,
		"You refine search queries. Based on the original question and the most relevant passage found "+
			"so far, generate 3 more specific queries that could surface the missing details.\n\n"+
			"Return ONLY the 3 queries, one per line, without numbering or bullets.",
		user)
}

func (s *Service) expand(ctx context.Context, originalQuery, system, user string) []string {
	response, err := s.provider.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		log.Warn().Err(err).Msg("query expansion failed, using original query")
		return []string{originalQuery, originalQuery, originalQuery}
	}

	var variations []string
	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			variations = append(variations, line)
		}
	}
	if len(variations) > 3 {
		variations = variations[:3]
	}
	for len(variations) < 3 {
		variations = append(variations, originalQuery)
	}
	return variations
}

func bestScore(reranked []vectorstore.Chunk) float64 {
	if len(reranked) == 0 {
		return 0
	}
	return reranked[0].RerankScore
}

func topPreview(reranked []vectorstore.Chunk) []map[string]any {
	n := len(reranked)
	if n > 3 {
		n = 3
	}
	preview := make([]map[string]any, 0, n)
	for _, c := range reranked[:n] {
		preview = append(preview, map[string]any{
			"text":  truncateRunes(c.Text, 100),
			"score": c.RerankScore,
		})
	}
	return preview
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func chunkKey(c vectorstore.Chunk) string {
	return fmt.Sprintf("%d_%d", c.DocID, c.ChunkID)
}

// chunkPool accumulates chunks across rounds, deduplicated by key and
// preserving insertion order.
type chunkPool struct {
	seen     map[string]struct{}
	metaDocs map[int64]struct{}
	chunks   []vectorstore.Chunk
}

func newChunkPool() *chunkPool {
	return &chunkPool{seen: map[string]struct{}{}, metaDocs: map[int64]struct{}{}}
}

func (p *chunkPool) Add(key string, chunk vectorstore.Chunk) bool {
	if _, ok := p.seen[key]; ok {
		return false
	}
	p.seen[key] = struct{}{}
	if chunk.IsMetadata || chunk.MetadataInjection {
		p.metaDocs[chunk.DocID] = struct{}{}
	}
	p.chunks = append(p.chunks, chunk)
	return true
}

func (p *chunkPool) HasMetadataFor(docID int64) bool {
	_, ok := p.metaDocs[docID]
	return ok
}

func (p *chunkPool) Len() int { return len(p.chunks) }

func (p *chunkPool) Chunks() []vectorstore.Chunk {
	out := make([]vectorstore.Chunk, len(p.chunks))
	copy(out, p.chunks)
	return out
}

// ---------- parent loading ----------

type parentEntry struct {
	docID     int64
	parentID  int
	docName   string
	section   string
	text      string
	score     float64
	neighbor  bool
	direction int
}

// loadParents resolves parent texts for the reranked chunks, expands with
// neighboring parents when enabled, and produces the context/source lists.
func (s *Service) loadParents(ctx context.Context, reranked []vectorstore.Chunk, emit func(string, string, any)) ([]string, []Source) {
	emit("loading_parents", "Loading parent contexts...", nil)

	paths := map[int64]string{}
	parentsPath := func(docID int64) string {
		if path, ok := paths[docID]; ok {
			return path
		}
		path := ""
		if doc, err := s.db.GetDocument(ctx, docID); err == nil {
			path = doc.ParentsPath
		}
		paths[docID] = path
		return path
	}

	seen := map[string]struct{}{}
	var entries []parentEntry
	for _, chunk := range reranked {
		if len(entries) >= s.opts.TopKRerank {
			break
		}
		key := fmt.Sprintf("%d_%d", chunk.DocID, chunk.ParentID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		path := parentsPath(chunk.DocID)
		if path == "" || !s.side.Exists(path) {
			continue
		}
		text := s.side.LoadParent(path, chunk.ParentID)
		if strings.TrimSpace(text) == "" {
			continue
		}
		entries = append(entries, parentEntry{
			docID:    chunk.DocID,
			parentID: chunk.ParentID,
			docName:  chunk.DocumentName,
			section:  chunk.Section,
			text:     text,
			score:    chunk.RerankScore,
		})
	}

	neighborAdded := false
	if s.opts.EnableNeighborExpansion && s.opts.NeighborWindow > 0 && len(entries) < s.opts.TopKRerank {
		neighborAdded = s.expandNeighbors(&entries, seen, parentsPath)
	}

	if neighborAdded {
		// Restore reading order so adjacent parents render coherently.
		docOrder := map[int64]int{}
		for _, e := range entries {
			if _, ok := docOrder[e.docID]; !ok {
				docOrder[e.docID] = len(docOrder)
			}
		}
		sort.SliceStable(entries, func(i, j int) bool {
			if docOrder[entries[i].docID] != docOrder[entries[j].docID] {
				return docOrder[entries[i].docID] < docOrder[entries[j].docID]
			}
			return entries[i].parentID < entries[j].parentID
		})
	}

	contexts := make([]string, 0, len(entries))
	sources := make([]Source, 0, len(entries))
	for _, e := range entries {
		contexts = append(contexts, e.text)
		sources = append(sources, Source{Label: sourceLabel(e), Content: strings.TrimSpace(e.text)})
	}
	return contexts, sources
}

// expandNeighbors adds at most one preceding and up to NeighborWindow
// following parents per base entry, stopping at TopKRerank total.
func (s *Service) expandNeighbors(entries *[]parentEntry, seen map[string]struct{}, parentsPath func(int64) string) bool {
	added := false
	base := make([]parentEntry, len(*entries))
	copy(base, *entries)

	tryAdd := func(docID int64, parentID int, docName, section string, score float64, direction int) bool {
		if len(*entries) >= s.opts.TopKRerank {
			return false
		}
		key := fmt.Sprintf("%d_%d", docID, parentID)
		if _, ok := seen[key]; ok {
			return false
		}
		path := parentsPath(docID)
		if path == "" {
			return false
		}
		text := s.side.LoadParent(path, parentID)
		if strings.TrimSpace(text) == "" {
			return false
		}
		seen[key] = struct{}{}
		*entries = append(*entries, parentEntry{
			docID:     docID,
			parentID:  parentID,
			docName:   docName,
			section:   section,
			text:      text,
			score:     score,
			neighbor:  true,
			direction: direction,
		})
		added = true
		return true
	}

	for _, e := range base {
		if len(*entries) >= s.opts.TopKRerank {
			break
		}
		if e.parentID-1 >= 0 {
			tryAdd(e.docID, e.parentID-1, e.docName, e.section, e.score*0.95, -1)
		}
		for offset := 1; offset <= s.opts.NeighborWindow; offset++ {
			if len(*entries) >= s.opts.TopKRerank {
				break
			}
			tryAdd(e.docID, e.parentID+offset, e.docName, e.section, e.score*0.98, +1)
		}
	}
	return added
}

func sourceLabel(e parentEntry) string {
	parts := []string{e.docName}
	if e.section != "" {
		parts = append(parts, "§ "+e.section)
	}
	if e.neighbor {
		if e.direction < 0 {
			parts = append(parts, "Vorabschnitt")
		} else {
			parts = append(parts, "Folgeabschnitt")
		}
	}
	parts = append(parts, fmt.Sprintf("(Relevanz: %.0f%%)", e.score*100))
	return strings.Join(parts, " - ")
}

// ---------- answer generation ----------

// BuildAnswerMessages assembles the LLM message list: system prompt, the last
// five history turns, and the numbered contexts followed by the question.
func BuildAnswerMessages(query string, contexts []string, chatHistory []llm.Message) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: answerSystemPrompt}}

	history := chatHistory
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	for _, m := range history {
		if m.Role == llm.RoleUser || m.Role == llm.RoleAssistant {
			msgs = append(msgs, m)
		}
	}

	var sb strings.Builder
	sb.WriteString("Context:\n")
	for i, ctx := range contexts {
		fmt.Fprintf(&sb, "Context %d:\n%s", i+1, ctx)
		if i < len(contexts)-1 {
			sb.WriteString("\n\n")
		}
	}
	fmt.Fprintf(&sb, "\n\nQuestion: %s", query)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: sb.String()})
	return msgs
}

// GenerateAnswerStream streams answer tokens; onToken receives every
// non-empty delta in order.
func (s *Service) GenerateAnswerStream(ctx context.Context, query string, contexts []string, chatHistory []llm.Message, onToken func(string) error) error {
	msgs := BuildAnswerMessages(query, contexts, chatHistory)
	return s.provider.Stream(ctx, msgs, func(token string) error {
		if token == "" {
			return nil
		}
		return onToken(token)
	})
}
