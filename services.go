// docqa/services.go

package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"docqa/internal/chunker"
	"docqa/internal/docmeta"
	"docqa/internal/embedding"
	"docqa/internal/ingest"
	"docqa/internal/llm"
	"docqa/internal/parser"
	"docqa/internal/procstate"
	"docqa/internal/rag"
	"docqa/internal/rerank"
	"docqa/internal/sidestore"
	"docqa/internal/store"
	"docqa/internal/vectorstore"
	"docqa/internal/zotero"
)

// App wires every service once at startup and is shared by all handlers.
type App struct {
	cfg *Config

	db         *store.Store
	embeddings *embedding.Service
	vectors    *vectorstore.Service
	reranker   *rerank.Service
	side       *sidestore.Store
	rag        *rag.Service
	state      *procstate.Tracker

	worker     *ingest.Worker
	zoteroSync *zotero.SyncService
	poller     *zotero.Poller
}

func newApp(ctx context.Context, cfg *Config) (*App, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db := store.New(pool)
	if err := db.Init(ctx); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	embeddings, err := embedding.NewService(
		embedding.NewHTTPEncoder(cfg.EmbeddingsHost, cfg.EmbeddingsAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension),
		cfg.EmbeddingCacheSize,
	)
	if err != nil {
		return nil, err
	}

	vectors, err := vectorstore.New(vectorstore.Config{
		Host:             cfg.QdrantHost,
		Port:             cfg.QdrantGRPCPort,
		CollectionPrefix: cfg.QdrantCollectionPrefix,
	}, embeddings)
	if err != nil {
		return nil, err
	}

	provider, err := llm.New(llm.Config{
		Provider:        cfg.LLMProvider,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OllamaBaseURL:   cfg.OllamaBaseURL,
		Options: llm.Options{
			Model:       cfg.LLMModel,
			Temperature: cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
			Timeout:     cfg.LLMTimeout,
		},
	})
	if err != nil {
		return nil, err
	}

	side := sidestore.New(cfg.SideStoreDir())
	var converter parser.StructuredConverter
	if cfg.ConverterHost != "" {
		converter = parser.NewHTTPConverter(cfg.ConverterHost)
	}
	fileParser := parser.New(converter)
	reranker := rerank.NewService(rerank.NewHTTPScorer(cfg.RerankerHost, cfg.RerankerModel))
	extractor := docmeta.NewExtractor(provider, cfg.UseLLMMetadataExtraction)
	state := procstate.NewTracker()

	chunk := chunker.New(chunker.Options{
		ParentChunkSize:    cfg.ParentChunkSize,
		ParentChunkOverlap: cfg.ParentChunkOverlap,
		ChildChunkSize:     cfg.ChildChunkSize,
		ChildChunkOverlap:  cfg.ChildChunkOverlap,
	}, side)

	pipeline := ingest.NewPipeline(fileParser, extractor, chunk, side, vectors, db, state)
	worker := ingest.NewWorker(pipeline, db, state, cfg.WorkerCheckInterval)

	ragService := rag.NewService(vectors, reranker, side, db, provider, rag.Options{
		TopKRetrieval:           cfg.TopKRetrieval,
		TopKRerank:              cfg.TopKRerank,
		EnableNeighborExpansion: cfg.EnableNeighborExpansion,
		NeighborWindow:          cfg.NeighborExpansionWindow,
		ExpansionCacheSize:      cfg.QueryExpansionCacheSize,
		ExpansionCacheTTL:       cfg.QueryExpansionCacheTTL,
	})

	zoteroClient := zotero.NewClient(zotero.Config{
		LibraryID:   cfg.ZoteroLibraryID,
		LibraryType: cfg.ZoteroLibraryType,
		APIKey:      cfg.ZoteroAPIKey,
	})
	zoteroSync := zotero.NewSyncService(zoteroClient, db, cfg.ZoteroDownloadDir())
	poller := zotero.NewPoller(zoteroSync, cfg.ZoteroPollInterval, cfg.ZoteroAutoSync, worker.Trigger)

	return &App{
		cfg:        cfg,
		db:         db,
		embeddings: embeddings,
		vectors:    vectors,
		reranker:   reranker,
		side:       side,
		rag:        ragService,
		state:      state,
		worker:     worker,
		zoteroSync: zoteroSync,
		poller:     poller,
	}, nil
}

// reconcileWithVectorStore runs once at startup: documents marked processed
// whose collection vanished are re-queued, and collections without a
// document row are deleted.
func (a *App) reconcileWithVectorStore(ctx context.Context) {
	docs, err := a.db.ListDocuments(ctx)
	if err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed to list documents")
		return
	}

	valid := make(map[string]struct{}, len(docs))
	requeued := 0
	for _, doc := range docs {
		name := doc.CollectionName()
		valid[name] = struct{}{}

		if doc.Processed && doc.NumChunks != store.FailedChunks && !a.vectors.DocumentExists(ctx, name) {
			log.Warn().Int64("doc_id", doc.ID).Str("filename", doc.Filename).Msg("document missing in vector store, marking as unprocessed")
			if err := a.db.MarkUnprocessed(ctx, doc.ID); err != nil {
				log.Error().Err(err).Int64("doc_id", doc.ID).Msg("failed to re-queue document")
				continue
			}
			requeued++
		}
	}
	if requeued > 0 {
		log.Info().Int("count", requeued).Msg("re-queued documents missing from vector store")
	}

	a.vectors.CleanupOrphanedCollections(ctx, valid)
}

// activeCollectionMap maps processed, query-enabled documents to their
// collections.
func (a *App) activeCollectionMap(ctx context.Context) (map[int64]string, error) {
	docs, err := a.db.ListActiveDocuments(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return a.vectors.BuildCollectionMap(ids), nil
}
