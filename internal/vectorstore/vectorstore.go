// Package vectorstore manages the per-document hybrid Qdrant collections:
// a named dense vector with INT8 scalar quantization plus a named sparse
// vector, fused at query time with Reciprocal Rank Fusion.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"docqa/internal/embedding"
)

// ErrVectorStore wraps adapter-level failures.
var ErrVectorStore = errors.New("vector store error")

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
	metadataSection  = "Document Metadata"
)

// Embedder is what the adapter needs from the embedding service.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSparse(text string) embedding.SparseVector
	Dimension() int
}

// Service is the Qdrant adapter.
type Service struct {
	client   *qdrant.Client
	embedder Embedder
	prefix   string
}

// Config selects the Qdrant endpoint.
type Config struct {
	Host             string
	Port             int
	CollectionPrefix string
}

// New connects to Qdrant over gRPC.
func New(cfg Config, embedder Embedder) (*Service, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "doc_"
	}
	return &Service{client: client, embedder: embedder, prefix: prefix}, nil
}

// Close releases the gRPC connection.
func (s *Service) Close() error { return s.client.Close() }

// CollectionNameForDocument derives the collection name from the document id.
func (s *Service) CollectionNameForDocument(docID int64) string {
	return fmt.Sprintf("%s%d", s.prefix, docID)
}

// BuildCollectionMap maps each document id to its collection name.
func (s *Service) BuildCollectionMap(docIDs []int64) map[int64]string {
	mapping := make(map[int64]string, len(docIDs))
	for _, id := range docIDs {
		mapping[id] = s.CollectionNameForDocument(id)
	}
	return mapping
}

// CollectionExists reports whether the collection is present.
func (s *Service) CollectionExists(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		log.Warn().Err(err).Str("collection", name).Msg("collection existence check failed")
		return false
	}
	return exists
}

// EnsureCollection creates the collection if missing, and recreates it when
// the existing schema is not hybrid-ready or the dense dimension changed.
func (s *Service) EnsureCollection(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: check collection %s: %v", ErrVectorStore, name, err)
	}
	if !exists {
		return s.createHybridCollection(ctx, name)
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		log.Info().Err(err).Str("collection", name).Msg("collection info unavailable, recreating")
		return s.createHybridCollection(ctx, name)
	}

	params := info.GetConfig().GetParams()
	dense := params.GetVectorsConfig().GetParamsMap().GetMap()[denseVectorName]
	hasSparse := len(params.GetSparseVectorsConfig().GetMap()) > 0

	if dense == nil || !hasSparse {
		log.Info().Str("collection", name).Msg("recreating collection for hybrid support")
		return s.createHybridCollection(ctx, name)
	}
	if int(dense.GetSize()) != s.embedder.Dimension() {
		log.Info().
			Str("collection", name).
			Uint64("current", dense.GetSize()).
			Int("expected", s.embedder.Dimension()).
			Msg("recreating collection due to dimension change")
		return s.createHybridCollection(ctx, name)
	}
	return nil
}

func (s *Service) createHybridCollection(ctx context.Context, name string) error {
	if exists, err := s.client.CollectionExists(ctx, name); err == nil && exists {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			log.Warn().Err(err).Str("collection", name).Msg("failed to delete existing collection")
		}
	}

	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(s.embedder.Dimension()),
				Distance: qdrant.Distance_Cosine,
				QuantizationConfig: qdrant.NewQuantizationScalar(&qdrant.ScalarQuantization{
					Type:      qdrant.QuantizationType_Int8,
					Quantile:  qdrant.PtrOf(float32(0.99)),
					AlwaysRam: qdrant.PtrOf(true),
				}),
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {
				Index: &qdrant.SparseIndexConfig{OnDisk: qdrant.PtrOf(false)},
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", ErrVectorStore, name, err)
	}
	s.createPayloadIndexes(ctx, name)
	return nil
}

func (s *Service) createPayloadIndexes(ctx context.Context, name string) {
	indexes := []struct {
		field string
		kind  qdrant.FieldType
	}{
		{"doc_id", qdrant.FieldType_FieldTypeInteger},
		{"section", qdrant.FieldType_FieldTypeKeyword},
		{"parent_id", qdrant.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      idx.field,
			FieldType:      idx.kind.Enum(),
		})
		if err != nil {
			log.Warn().Err(err).Str("collection", name).Str("field", idx.field).Msg("failed to create payload index")
		}
	}
}

// ResetCollection deletes and recreates the collection.
func (s *Service) ResetCollection(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		log.Debug().Err(err).Str("collection", name).Msg("delete before reset failed")
	}
	return s.createHybridCollection(ctx, name)
}

// DeleteCollection removes the collection if it exists.
func (s *Service) DeleteCollection(ctx context.Context, name string) error {
	if name == "" || !s.CollectionExists(ctx, name) {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("%w: delete collection %s: %v", ErrVectorStore, name, err)
	}
	return nil
}

// DeleteDocument removes a document's collection.
func (s *Service) DeleteDocument(ctx context.Context, name string) error {
	return s.DeleteCollection(ctx, name)
}

// CleanupOrphanedCollections deletes prefix-matching collections that are not
// in the valid set.
func (s *Service) CleanupOrphanedCollections(ctx context.Context, valid map[string]struct{}) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("unable to list collections")
		return
	}
	for _, name := range names {
		if !strings.HasPrefix(name, s.prefix) {
			continue
		}
		if _, ok := valid[name]; ok {
			continue
		}
		log.Info().Str("collection", name).Msg("deleting orphaned collection")
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			log.Warn().Err(err).Str("collection", name).Msg("failed to delete orphaned collection")
		}
	}
}

// DocumentExists reports whether the collection exists and holds points.
func (s *Service) DocumentExists(ctx context.Context, name string) bool {
	if !s.CollectionExists(ctx, name) {
		return false
	}
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Limit:          qdrant.PtrOf(uint32(1)),
	})
	if err != nil {
		log.Warn().Err(err).Str("collection", name).Msg("failed to check collection contents")
		return false
	}
	return len(points) > 0
}

// AddDocuments embeds the chunks and upserts them into the collection. On a
// vector/size schema error the collection is recreated once and the upsert
// retried. onProgress, when non-nil, is called after every embedding batch
// with (done, total).
func (s *Service) AddDocuments(ctx context.Context, docID int64, chunks []Chunk, name, documentName string, onProgress func(done, total int)) error {
	if name == "" {
		return fmt.Errorf("%w: empty collection name for doc %d", ErrVectorStore, docID)
	}
	if err := s.EnsureCollection(ctx, name); err != nil {
		return err
	}
	log.Info().Int64("doc_id", docID).Int("chunks", len(chunks)).Str("collection", name).Msg("adding chunks")

	const embedBatch = 10
	denseVecs := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatch {
		end := start + embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embed chunks for %s: %v", ErrVectorStore, name, err)
		}
		denseVecs = append(denseVecs, vecs...)
		if onProgress != nil {
			onProgress(end, len(chunks))
		}
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		sparse := s.embedder.EmbedSparse(chunk.Text)
		docName := documentName
		if docName == "" {
			docName = chunk.DocumentName
		}
		points[i] = &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				denseVectorName:  qdrant.NewVectorDense(denseVecs[i]),
				sparseVectorName: qdrant.NewVectorSparse(sparse.Indices, sparse.Values),
			}),
			Payload: qdrant.NewValueMap(map[string]any{
				"doc_id":        docID,
				"chunk_id":      int64(chunk.ChunkID),
				"text":          chunk.Text,
				"parent_id":     int64(chunk.ParentID),
				"document_name": docName,
				"section":       chunk.Section,
				"position":      chunk.Position,
				"chunk_index":   int64(i),
				"total_chunks":  int64(len(chunks)),
			}),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "vector") || strings.Contains(msg, "size") {
			log.Warn().Str("collection", name).Msg("schema mismatch on upsert, recreating collection")
			if err := s.createHybridCollection(ctx, name); err != nil {
				return err
			}
			if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: name,
				Points:         points,
				Wait:           qdrant.PtrOf(true),
			}); err != nil {
				return fmt.Errorf("%w: upsert after recreate of %s: %v", ErrVectorStore, name, err)
			}
			return nil
		}
		return fmt.Errorf("%w: upsert into %s: %v", ErrVectorStore, name, err)
	}
	return nil
}

// Search runs the hybrid query against every collection in the map, fusing
// dense and sparse prefetches with RRF, then merges and caps globally.
func (s *Service) Search(ctx context.Context, query string, docCollections map[int64]string, topK int) ([]Chunk, error) {
	if len(docCollections) == 0 {
		return []Chunk{}, nil
	}

	denseVec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrVectorStore, err)
	}
	sparseVec := s.embedder.EmbedSparse(query)

	perCollectionLimit := topK
	if perCollectionLimit < 5 {
		perCollectionLimit = 5
	}
	prefetchLimit := uint64(perCollectionLimit * 2)

	// The gRPC client is safe for concurrent use; query collections in
	// parallel and merge. Per-collection failures are logged and skipped.
	var (
		mu       sync.Mutex
		combined []Chunk
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for docID, name := range docCollections {
		if name == "" {
			log.Warn().Int64("doc_id", docID).Msg("skipping document with empty collection name")
			continue
		}
		g.Go(func() error {
			if !s.CollectionExists(gctx, name) {
				log.Warn().Int64("doc_id", docID).Str("collection", name).Msg("skipping missing collection")
				return nil
			}
			points, err := s.client.Query(gctx, &qdrant.QueryPoints{
				CollectionName: name,
				Prefetch: []*qdrant.PrefetchQuery{
					{
						Query: qdrant.NewQueryDense(denseVec),
						Using: qdrant.PtrOf(denseVectorName),
						Limit: qdrant.PtrOf(prefetchLimit),
					},
					{
						Query: qdrant.NewQuerySparse(sparseVec.Indices, sparseVec.Values),
						Using: qdrant.PtrOf(sparseVectorName),
						Limit: qdrant.PtrOf(prefetchLimit),
					},
				},
				Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
				Limit:       qdrant.PtrOf(uint64(perCollectionLimit)),
				WithPayload: qdrant.NewWithPayload(true),
				Params: &qdrant.SearchParams{
					Quantization: &qdrant.QuantizationSearchParams{
						Ignore:       qdrant.PtrOf(false),
						Rescore:      qdrant.PtrOf(true),
						Oversampling: qdrant.PtrOf(2.0),
					},
				},
			})
			if err != nil {
				log.Error().Err(err).Int64("doc_id", docID).Str("collection", name).Msg("query failed")
				return nil
			}
			mu.Lock()
			for _, hit := range points {
				combined = append(combined, scoredPointToChunk(hit, docID))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(combined, func(i, j int) bool { return combined[i].Score > combined[j].Score })
	if topK > 0 && len(combined) > topK {
		combined = combined[:topK]
	}
	return combined, nil
}

// SearchDenseOnly queries a single collection by semantic similarity alone.
func (s *Service) SearchDenseOnly(ctx context.Context, query, name string, topK int) ([]Chunk, error) {
	if !s.CollectionExists(ctx, name) {
		return []Chunk{}, nil
	}
	denseVec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrVectorStore, err)
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(denseVec),
		Using:          qdrant.PtrOf(denseVectorName),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dense query on %s: %v", ErrVectorStore, name, err)
	}
	out := make([]Chunk, 0, len(points))
	for _, hit := range points {
		out = append(out, scoredPointToChunk(hit, 0))
	}
	return out, nil
}

// SearchSparseOnly queries a single collection by lexical match alone.
func (s *Service) SearchSparseOnly(ctx context.Context, query, name string, topK int) ([]Chunk, error) {
	if !s.CollectionExists(ctx, name) {
		return []Chunk{}, nil
	}
	sparseVec := s.embedder.EmbedSparse(query)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuerySparse(sparseVec.Indices, sparseVec.Values),
		Using:          qdrant.PtrOf(sparseVectorName),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sparse query on %s: %v", ErrVectorStore, name, err)
	}
	out := make([]Chunk, 0, len(points))
	for _, hit := range points {
		out = append(out, scoredPointToChunk(hit, 0))
	}
	return out, nil
}

// GetMetadataChunksForDocs scrolls each collection for its metadata section
// chunks (limit 2 per document) and tags them as injected with score 0.
func (s *Service) GetMetadataChunksForDocs(ctx context.Context, docCollections map[int64]string) []Chunk {
	var out []Chunk
	for docID, name := range docCollections {
		if !s.CollectionExists(ctx, name) {
			continue
		}
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: name,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("section", metadataSection)},
			},
			Limit:       qdrant.PtrOf(uint32(2)),
			WithPayload: qdrant.NewWithPayload(true),
		})
		if err != nil {
			log.Warn().Err(err).Int64("doc_id", docID).Msg("failed to retrieve metadata chunks")
			continue
		}
		for _, point := range points {
			chunk := payloadToChunk(point.GetPayload(), docID)
			chunk.Score = 0
			chunk.MetadataInjection = true
			out = append(out, chunk)
		}
	}
	return out
}

func scoredPointToChunk(hit *qdrant.ScoredPoint, docID int64) Chunk {
	chunk := payloadToChunk(hit.GetPayload(), docID)
	chunk.Score = float64(hit.GetScore())
	return chunk
}

func payloadToChunk(payload map[string]*qdrant.Value, fallbackDocID int64) Chunk {
	chunk := Chunk{DocID: fallbackDocID}
	if v, ok := payload["doc_id"]; ok {
		chunk.DocID = v.GetIntegerValue()
	}
	if v, ok := payload["chunk_id"]; ok {
		chunk.ChunkID = int(v.GetIntegerValue())
	}
	if v, ok := payload["parent_id"]; ok {
		chunk.ParentID = int(v.GetIntegerValue())
	}
	if v, ok := payload["text"]; ok {
		chunk.Text = v.GetStringValue()
	}
	if v, ok := payload["document_name"]; ok {
		chunk.DocumentName = v.GetStringValue()
	}
	if v, ok := payload["section"]; ok {
		chunk.Section = v.GetStringValue()
		chunk.IsMetadata = chunk.Section == metadataSection
	}
	if v, ok := payload["position"]; ok {
		chunk.Position = v.GetStringValue()
	}
	if v, ok := payload["chunk_index"]; ok {
		chunk.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["total_chunks"]; ok {
		chunk.TotalChunks = int(v.GetIntegerValue())
	}
	return chunk
}
