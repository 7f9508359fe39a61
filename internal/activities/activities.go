package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"cropsense/internal/chunking"
	"cropsense/internal/config"
	"cropsense/internal/embedding"
	"cropsense/internal/ingest"
	"cropsense/internal/models"
	"cropsense/internal/providers"
	"cropsense/internal/storage"
)

type Activities struct {
	cfg      config.Config
	embedder *embedding.Client
	chunks   *storage.ChunkStore
	status   *storage.StatusStore
	logger   *zap.Logger
}

func New(cfg config.Config, db *storage.DB, logger *zap.Logger) (*Activities, error) {
	provider, err := providers.BuildEmbeddingProvider(cfg.EmbedProvider, cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := embedding.RetryPolicy{MaxAttempts: cfg.EmbedMaxAttempts, BaseDelay: time.Second}
	return &Activities{
		cfg:      cfg,
		embedder: embedding.NewClient(provider, cfg.EmbedDim, policy, logger),
		chunks:   storage.NewChunkStore(db, cfg.CommitBatchSize, cfg.CandidateLimit),
		status:   storage.NewStatusStore(db),
		logger:   logger,
	}, nil
}

func (a *Activities) ListPDFsActivity(ctx context.Context, in ListPDFsInput) (ListPDFsOutput, error) {
	_ = ctx
	entries, err := os.ReadDir(in.InputDir)
	if err != nil {
		return ListPDFsOutput{}, fmt.Errorf("read input dir: %w", err)
	}
	paths := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			paths = append(paths, filepath.Join(in.InputDir, e.Name()))
		}
	}
	sort.Strings(paths)
	return ListPDFsOutput{Paths: paths}, nil
}

func (a *Activities) ResolveDocumentActivity(ctx context.Context, in ResolveDocumentInput) (ResolveDocumentOutput, error) {
	hash, err := ingest.FileSHA256(in.Path)
	if err != nil {
		return ResolveDocumentOutput{}, err
	}
	id := in.DocumentID
	if id == "" {
		id = hash
	}
	done, err := a.status.IsProcessed(ctx, id, hash)
	if err != nil {
		a.logger.Warn("processed check failed", zap.String("document_id", id), zap.Error(err))
		done = false
	}
	return ResolveDocumentOutput{DocumentID: id, FileHash: hash, AlreadyProcessed: done}, nil
}

func (a *Activities) UpdateStatusActivity(ctx context.Context, in UpdateStatusInput) error {
	return a.status.UpdateStatus(ctx, in.DocumentID, in.Status, in.Metadata, in.ErrorMessage)
}

func (a *Activities) ExtractChunksActivity(ctx context.Context, in ExtractChunksInput) (ExtractChunksOutput, error) {
	_ = ctx
	items, err := ingest.ExtractPDF(in.Path)
	if err != nil {
		return ExtractChunksOutput{}, err
	}
	chunker, err := chunkerFromConfig(a.cfg)
	if err != nil {
		return ExtractChunksOutput{}, err
	}
	pieces := chunker.Chunk(items)
	out := ExtractChunksOutput{Pages: len(items), Chunks: make([]ChunkItem, len(pieces))}
	for i, p := range pieces {
		out.Chunks[i] = ChunkItem{Text: p.Text, Page: p.Page, Index: p.Index}
	}
	return out, nil
}

func (a *Activities) EmbedChunksActivity(ctx context.Context, in EmbedChunksInput) (EmbedChunksOutput, error) {
	vectors, err := a.embedder.EmbedBatch(ctx, in.Texts, providers.IntentDocument)
	if err != nil {
		return EmbedChunksOutput{}, err
	}
	return EmbedChunksOutput{Vectors: vectors}, nil
}

func (a *Activities) UpsertChunksActivity(ctx context.Context, in UpsertChunksInput) (UpsertChunksOutput, error) {
	if len(in.Chunks) != len(in.Vectors) {
		return UpsertChunksOutput{}, fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(in.Chunks), len(in.Vectors))
	}
	now := time.Now().UTC()
	rows := make([]models.Chunk, len(in.Chunks))
	for i, c := range in.Chunks {
		rows[i] = models.Chunk{
			ID:           chunkID(in.DocumentID, c.Index),
			Content:      c.Text,
			Embedding:    in.Vectors[i],
			EmbeddingDim: a.embedder.Dimension(),
			Metadata: models.ChunkMetadata{
				DocumentID:   in.DocumentID,
				Source:       in.Source,
				PageNumber:   c.Page,
				ChunkIndex:   c.Index,
				DocumentType: in.DocumentType,
				Tags:         in.Tags,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	res, err := a.chunks.UpsertBatch(ctx, rows)
	if err != nil {
		return UpsertChunksOutput{Stored: res.Succeeded, Failed: res.Failed}, err
	}
	return UpsertChunksOutput{Stored: res.Succeeded, Failed: res.Failed}, nil
}

func chunkerFromConfig(cfg config.Config) (*chunking.Chunker, error) {
	return chunking.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
}

func chunkID(documentID string, index int) string {
	return chunking.GenerateChunkID(documentID, index)
}

func (a *Activities) DeleteDocumentActivity(ctx context.Context, in DeleteDocumentInput) (DeleteDocumentOutput, error) {
	n, err := a.chunks.DeleteByDocument(ctx, in.DocumentID)
	if err != nil {
		return DeleteDocumentOutput{}, err
	}
	return DeleteDocumentOutput{Deleted: n}, nil
}
