package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cropsense/internal/chunking"
	"cropsense/internal/models"
	"cropsense/internal/providers"
	"cropsense/internal/storage"
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, intent providers.EmbedIntent) ([][]float32, error)
	Dimension() int
}

type ChunkWriter interface {
	UpsertBatch(ctx context.Context, chunks []models.Chunk) (storage.UpsertResult, error)
}

type StatusWriter interface {
	UpdateStatus(ctx context.Context, documentID, status string, metadata map[string]string, errorMessage string) error
	IsProcessed(ctx context.Context, documentID, fileHash string) (bool, error)
}

// Document describes one file to ingest. DocumentID defaults to the
// file's content hash so re-ingesting an unchanged file is a no-op.
type Document struct {
	Path         string
	DocumentID   string
	Name         string
	DocumentType string
	Tags         map[string]string
}

// Ingestor runs the extract-chunk-embed-store pipeline for PDFs and
// records each document's lifecycle in the status store.
type Ingestor struct {
	chunker   *chunking.Chunker
	embedder  Embedder
	chunks    ChunkWriter
	status    StatusWriter
	batchSize int
	logger    *zap.Logger

	// extract is swapped in tests; production always reads PDFs.
	extract func(path string) ([]chunking.TextItem, error)
	hash    func(path string) (string, error)
}

func NewIngestor(chunker *chunking.Chunker, embedder Embedder, chunks ChunkWriter,
	status StatusWriter, embedBatchSize int, logger *zap.Logger) *Ingestor {
	if embedBatchSize <= 0 {
		embedBatchSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		chunker:   chunker,
		embedder:  embedder,
		chunks:    chunks,
		status:    status,
		batchSize: embedBatchSize,
		logger:    logger,
		extract:   ExtractPDF,
		hash:      FileSHA256,
	}
}

// IngestDocument processes one PDF end to end. The status row moves
// pending -> processing -> completed, or failed with the error recorded.
// Documents whose content hash already completed are skipped.
func (g *Ingestor) IngestDocument(ctx context.Context, doc Document) (models.IngestStats, error) {
	start := time.Now()

	hash, err := g.hash(doc.Path)
	if err != nil {
		return models.IngestStats{}, err
	}
	if doc.DocumentID == "" {
		doc.DocumentID = hash
	}
	if doc.Name == "" {
		doc.Name = doc.Path
	}
	stats := models.IngestStats{DocumentID: doc.DocumentID, DocumentName: doc.Name}

	done, err := g.status.IsProcessed(ctx, doc.DocumentID, hash)
	if err != nil {
		g.logger.Warn("processed check failed", zap.String("document_id", doc.DocumentID), zap.Error(err))
	} else if done {
		g.logger.Info("document already ingested, skipping",
			zap.String("document_id", doc.DocumentID))
		return stats, nil
	}

	meta := map[string]string{"fileHash": hash, "name": doc.Name}
	if err := g.status.UpdateStatus(ctx, doc.DocumentID, models.StatusProcessing, meta, ""); err != nil {
		return stats, fmt.Errorf("mark processing: %w", err)
	}

	items, err := g.extract(doc.Path)
	if err != nil {
		g.fail(ctx, doc.DocumentID, err)
		return stats, err
	}
	stats.Pages = len(items)

	pieces := g.chunker.Chunk(items)
	stats.Chunks = len(pieces)
	if len(pieces) == 0 {
		g.fail(ctx, doc.DocumentID, ErrNoExtractableText)
		return stats, ErrNoExtractableText
	}

	stored, failed, err := g.embedAndStore(ctx, doc, pieces)
	stats.StoredChunks = stored
	stats.FailedChunks = failed
	stats.DurationSeconds = time.Since(start).Seconds()
	if err != nil {
		g.fail(ctx, doc.DocumentID, err)
		return stats, err
	}

	meta["chunks"] = fmt.Sprintf("%d", stored)
	if err := g.status.UpdateStatus(ctx, doc.DocumentID, models.StatusCompleted, meta, ""); err != nil {
		return stats, fmt.Errorf("mark completed: %w", err)
	}
	g.logger.Info("document ingested",
		zap.String("document_id", doc.DocumentID),
		zap.Int("pages", stats.Pages),
		zap.Int("chunks", stats.Chunks),
		zap.Int("stored", stored),
		zap.Float64("seconds", stats.DurationSeconds))
	return stats, nil
}

// IngestBatch runs documents sequentially and keeps going past
// individual failures, so one broken PDF cannot stall a corpus load.
func (g *Ingestor) IngestBatch(ctx context.Context, docs []Document) []models.IngestStats {
	out := make([]models.IngestStats, 0, len(docs))
	for _, doc := range docs {
		stats, err := g.IngestDocument(ctx, doc)
		if err != nil {
			g.logger.Error("document ingestion failed",
				zap.String("path", doc.Path), zap.Error(err))
		}
		out = append(out, stats)
	}
	return out
}

func (g *Ingestor) embedAndStore(ctx context.Context, doc Document, pieces []chunking.Chunk) (stored, failed int, err error) {
	now := time.Now().UTC()
	for lo := 0; lo < len(pieces); lo += g.batchSize {
		hi := lo + g.batchSize
		if hi > len(pieces) {
			hi = len(pieces)
		}
		batch := pieces[lo:hi]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}
		vectors, err := g.embedder.EmbedBatch(ctx, texts, providers.IntentDocument)
		if err != nil {
			return stored, failed + len(pieces) - lo, fmt.Errorf("embed batch at %d: %w", lo, err)
		}

		chunks := make([]models.Chunk, len(batch))
		for i, p := range batch {
			chunks[i] = models.Chunk{
				ID:           chunking.GenerateChunkID(doc.DocumentID, p.Index),
				Content:      p.Text,
				Embedding:    vectors[i],
				EmbeddingDim: g.embedder.Dimension(),
				Metadata: models.ChunkMetadata{
					DocumentID:   doc.DocumentID,
					Source:       doc.Name,
					PageNumber:   p.Page,
					ChunkIndex:   p.Index,
					DocumentType: doc.DocumentType,
					Tags:         doc.Tags,
				},
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		res, err := g.chunks.UpsertBatch(ctx, chunks)
		stored += res.Succeeded
		failed += res.Failed
		if err != nil {
			return stored, failed, fmt.Errorf("store batch at %d: %w", lo, err)
		}
	}
	return stored, failed, nil
}

func (g *Ingestor) fail(ctx context.Context, documentID string, cause error) {
	if err := g.status.UpdateStatus(ctx, documentID, models.StatusFailed, nil, cause.Error()); err != nil {
		g.logger.Warn("mark failed", zap.String("document_id", documentID), zap.Error(err))
	}
}
