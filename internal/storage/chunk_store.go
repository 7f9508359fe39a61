package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cropsense/internal/models"
	"cropsense/internal/vector"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ChunkStore persists chunks and answers similarity queries. Writes are
// grouped into commit batches bounded by commitBatchSize; search pushes
// equality filters into SQL, caps the candidate set, and scores
// candidates client-side with cosine similarity.
type ChunkStore struct {
	db              *DB
	commitBatchSize int
	candidateLimit  int
}

func NewChunkStore(db *DB, commitBatchSize, candidateLimit int) *ChunkStore {
	if commitBatchSize <= 0 {
		commitBatchSize = 500
	}
	if candidateLimit <= 0 {
		candidateLimit = 1000
	}
	return &ChunkStore{db: db, commitBatchSize: commitBatchSize, candidateLimit: candidateLimit}
}

type UpsertResult struct {
	Succeeded int
	Failed    int
}

// UpsertBatch writes chunks in commit batches. Batches are independent:
// a failed batch counts its chunks as failed and does not roll back the
// batches already committed. The returned error is the last batch
// failure, nil when every batch committed.
func (s *ChunkStore) UpsertBatch(ctx context.Context, chunks []models.Chunk) (UpsertResult, error) {
	return upsertInBatches(ctx, chunks, s.commitBatchSize, s.commitChunks)
}

type commitFn func(ctx context.Context, chunks []models.Chunk) error

func upsertInBatches(ctx context.Context, chunks []models.Chunk, size int, commit commitFn) (UpsertResult, error) {
	var result UpsertResult
	var lastErr error
	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		if err := commit(ctx, batch); err != nil {
			result.Failed += len(batch)
			lastErr = fmt.Errorf("commit batch at offset %d: %w", start, err)
			continue
		}
		result.Succeeded += len(batch)
	}
	return result, lastErr
}

func (s *ChunkStore) commitChunks(ctx context.Context, chunks []models.Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		tagsJSON, err := json.Marshal(c.Metadata.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags for %s: %w", c.ID, err)
		}
		batch.Queue(`
INSERT INTO chunks (chunk_id, content, embedding, embedding_dim, document_id, source, page_number, chunk_index, document_type, tags, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
ON CONFLICT (chunk_id)
DO UPDATE SET
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  embedding_dim = EXCLUDED.embedding_dim,
  source = EXCLUDED.source,
  page_number = EXCLUDED.page_number,
  document_type = EXCLUDED.document_type,
  tags = EXCLUDED.tags,
  updated_at = now()`,
			c.ID, c.Content, pgvector.NewVector(c.Embedding), len(c.Embedding),
			c.Metadata.DocumentID, c.Metadata.Source, c.Metadata.PageNumber,
			c.Metadata.ChunkIndex, c.Metadata.DocumentType, tagsJSON,
		)
	}
	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert chunk: %w", err)
		}
	}
	return nil
}

// Metadata columns that take a dedicated filter clause; anything else
// matches against the tags map.
var filterColumns = map[string]string{
	"documentId":   "document_id",
	"source":       "source",
	"documentType": "document_type",
	"pageNumber":   "page_number::text",
}

// buildSearchQuery assembles the candidate-fetch SQL. Every value,
// including tag keys from caller-supplied filters, is passed as a bind
// parameter; nothing user-controlled reaches the SQL text.
func buildSearchQuery(filters map[string]string, candidateLimit int) (string, []any) {
	sql := `
SELECT chunk_id, content, embedding, document_id, source, page_number, chunk_index, document_type, tags
FROM chunks WHERE 1=1`
	args := []any{}
	// Sorted keys keep the generated SQL deterministic.
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if col, ok := filterColumns[k]; ok {
			args = append(args, filters[k])
			sql += fmt.Sprintf(" AND %s = $%d", col, len(args))
		} else {
			args = append(args, k, filters[k])
			sql += fmt.Sprintf(" AND tags->>($%d::text) = $%d", len(args)-1, len(args))
		}
	}
	args = append(args, candidateLimit)
	sql += fmt.Sprintf(" LIMIT $%d", len(args))
	return sql, args
}

type candidate struct {
	chunkID   string
	content   string
	embedding []float32
	metadata  models.ChunkMetadata
}

// Search fetches up to candidateLimit chunks matching the equality
// filters, scores every candidate against queryVec with cosine
// similarity, and returns the topK best in descending score order.
// Deliberately brute-force: linear in the candidate set.
func (s *ChunkStore) Search(ctx context.Context, queryVec []float32, topK int, filters map[string]string) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		topK = 5
	}

	sql, args := buildSearchQuery(filters, s.candidateLimit)
	rows, err := s.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query search candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]candidate, 0, 64)
	for rows.Next() {
		var c candidate
		var emb pgvector.Vector
		var tagsJSON []byte
		if err := rows.Scan(&c.chunkID, &c.content, &emb, &c.metadata.DocumentID, &c.metadata.Source,
			&c.metadata.PageNumber, &c.metadata.ChunkIndex, &c.metadata.DocumentType, &tagsJSON); err != nil {
			return nil, fmt.Errorf("scan search candidate: %w", err)
		}
		c.embedding = emb.Slice()
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &c.metadata.Tags); err != nil {
				return nil, fmt.Errorf("decode tags for %s: %w", c.chunkID, err)
			}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search candidates: %w", err)
	}

	return rankCandidates(queryVec, candidates, topK), nil
}

func rankCandidates(queryVec []float32, candidates []candidate, topK int) []models.RetrievedChunk {
	results := make([]models.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		if len(c.embedding) == 0 {
			continue
		}
		results = append(results, models.RetrievedChunk{
			ChunkID:  c.chunkID,
			Content:  c.content,
			Score:    vector.CosineSimilarity(queryVec, c.embedding),
			Metadata: c.metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// DeleteByDocument removes every chunk belonging to documentID, in the
// same commit-batch discipline as upserts. Returns the number deleted.
func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT chunk_id FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("list chunks for delete: %w", err)
	}
	ids := make([]string, 0, 64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate chunk ids: %w", err)
	}

	deleted := 0
	for start := 0; start < len(ids); start += s.commitBatchSize {
		end := start + s.commitBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		tag, err := s.db.Pool.Exec(ctx, `DELETE FROM chunks WHERE chunk_id = ANY($1)`, ids[start:end])
		if err != nil {
			return deleted, fmt.Errorf("delete chunk batch at offset %d: %w", start, err)
		}
		deleted += int(tag.RowsAffected())
	}
	return deleted, nil
}

// CountChunks returns the chunk total, optionally scoped to one document.
func (s *ChunkStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	var count int
	var err error
	if documentID == "" {
		err = s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	} else {
		err = s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// ListDocuments scans the chunk collection and aggregates per-document
// info in memory. Documents are derived, never materialized.
func (s *ChunkStore) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT document_id, source, document_type, created_at FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*models.DocumentInfo)
	for rows.Next() {
		var docID, source, docType string
		var createdAt time.Time
		if err := rows.Scan(&docID, &source, &docType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		info, ok := byID[docID]
		if !ok {
			info = &models.DocumentInfo{DocumentID: docID, Source: source, DocumentType: docType, CreatedAt: createdAt}
			byID[docID] = info
		}
		info.ChunkCount++
		if createdAt.Before(info.CreatedAt) {
			info.CreatedAt = createdAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}

	out := make([]models.DocumentInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}
