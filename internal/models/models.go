package models

import "time"

// ChunkMetadata identifies where a chunk came from. The named fields
// cover the columns every document carries; Tags holds optional
// domain attributes such as crop or region.
type ChunkMetadata struct {
	DocumentID   string            `json:"documentId"`
	Source       string            `json:"source"`
	PageNumber   int               `json:"pageNumber"`
	ChunkIndex   int               `json:"chunkIndex"`
	DocumentType string            `json:"documentType"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// Chunk is a bounded span of document text with its embedding vector.
// Invariant: len(Embedding) == EmbeddingDim.
type Chunk struct {
	ID           string        `json:"id"`
	Content      string        `json:"content"`
	Embedding    []float32     `json:"embedding"`
	EmbeddingDim int           `json:"embeddingDim"`
	Metadata     ChunkMetadata `json:"metadata"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// RetrievedChunk is a search hit: chunk content plus its cosine
// similarity against the query vector.
type RetrievedChunk struct {
	ChunkID  string        `json:"chunkId"`
	Content  string        `json:"content"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// DocumentInfo aggregates the chunks sharing a document id. It is
// computed by scanning the chunks table, never materialized.
type DocumentInfo struct {
	DocumentID   string    `json:"documentId"`
	Source       string    `json:"source"`
	DocumentType string    `json:"documentType"`
	ChunkCount   int       `json:"chunkCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Document ingestion lifecycle states. A document moves forward through
// these and is only reset by re-ingestion.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type DocumentStatus struct {
	DocumentID   string            `json:"documentId"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// RateLimitRecord tracks one caller's generation usage. CurrentHour is
// the integer hour bucket floor(unix/3600); RequestsThisHour resets
// implicitly when the bucket advances.
type RateLimitRecord struct {
	UserID           string    `json:"userId"`
	RequestsThisHour int       `json:"requestsThisHour"`
	CurrentHour      int64     `json:"currentHour"`
	TotalRequests    int       `json:"totalRequests"`
	FirstRequestAt   time.Time `json:"firstRequestAt"`
	LastRequestAt    time.Time `json:"lastRequestAt"`
}

// CachedResponse is a stored generation answer keyed by normalized query.
type CachedResponse struct {
	Query    string    `json:"query"`
	Response string    `json:"response"`
	CachedAt time.Time `json:"cachedAt"`
	HitCount int       `json:"hitCount"`
}

// IngestStats summarizes one document's trip through the pipeline.
type IngestStats struct {
	DocumentID      string  `json:"document_id"`
	DocumentName    string  `json:"document_name"`
	Pages           int     `json:"pages"`
	Chunks          int     `json:"chunks"`
	StoredChunks    int     `json:"stored_chunks"`
	FailedChunks    int     `json:"failed_chunks"`
	DurationSeconds float64 `json:"duration_seconds"`
}
