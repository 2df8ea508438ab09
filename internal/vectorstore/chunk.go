package vectorstore

// Chunk is the unit that flows between chunking, storage, retrieval and
// reranking. Payload fields mirror what is stored on each vector point.
type Chunk struct {
	Text         string
	DocID        int64
	ChunkID      int
	ParentID     int
	DocumentName string
	Section      string
	Position     string
	ChunkIndex   int
	TotalChunks  int
	IsMetadata   bool

	// Retrieval-time fields.
	Score             float64
	RerankScore       float64
	ThresholdUsed     float64
	ThresholdReason   string
	MetadataInjection bool
	MetadataPriority  bool
}
