package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cropsense/internal/models"
)

func makeChunks(n int) []models.Chunk {
	out := make([]models.Chunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Chunk{ID: fmt.Sprintf("doc_chunk_%04d", i)})
	}
	return out
}

func TestUpsertInBatchesPartitioning(t *testing.T) {
	var sizes []int
	commit := func(ctx context.Context, chunks []models.Chunk) error {
		sizes = append(sizes, len(chunks))
		return nil
	}
	result, err := upsertInBatches(context.Background(), makeChunks(1200), 500, commit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sizes) != 3 || sizes[0] != 500 || sizes[1] != 500 || sizes[2] != 200 {
		t.Fatalf("expected commits of 500/500/200, got %v", sizes)
	}
	if result.Succeeded != 1200 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestUpsertInBatchesPartialFailure(t *testing.T) {
	calls := 0
	commit := func(ctx context.Context, chunks []models.Chunk) error {
		calls++
		if calls == 3 {
			return errors.New("write limit exceeded")
		}
		return nil
	}
	result, err := upsertInBatches(context.Background(), makeChunks(1200), 500, commit)
	if err == nil {
		t.Fatal("expected error when a batch fails")
	}
	// Earlier batches stay committed; only the failing batch is lost.
	if result.Succeeded != 1000 {
		t.Fatalf("expected 1000 chunks persisted, got %d", result.Succeeded)
	}
	if result.Failed != 200 {
		t.Fatalf("expected 200 chunks failed, got %d", result.Failed)
	}
}

func TestUpsertInBatchesEmpty(t *testing.T) {
	commit := func(ctx context.Context, chunks []models.Chunk) error {
		t.Fatal("commit must not be called for empty input")
		return nil
	}
	result, err := upsertInBatches(context.Background(), nil, 500, commit)
	if err != nil || result.Succeeded != 0 || result.Failed != 0 {
		t.Fatalf("unexpected result for empty input: %+v err=%v", result, err)
	}
}

func TestRankCandidatesOrderingAndTopK(t *testing.T) {
	query := []float32{1, 0}
	candidates := []candidate{
		{chunkID: "far", embedding: []float32{0, 1}},
		{chunkID: "close", embedding: []float32{1, 0.1}},
		{chunkID: "exact", embedding: []float32{2, 0}},
		{chunkID: "opposite", embedding: []float32{-1, 0}},
	}

	results := rankCandidates(query, candidates, 3)
	if len(results) != 3 {
		t.Fatalf("expected topK=3 results, got %d", len(results))
	}
	if results[0].ChunkID != "exact" {
		t.Fatalf("best match should rank first, got %s", results[0].ChunkID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("scores must be non-increasing: %g then %g", results[i-1].Score, results[i].Score)
		}
	}
}

func TestRankCandidatesNeverExceedsTopK(t *testing.T) {
	query := []float32{1, 0}
	candidates := make([]candidate, 0, 20)
	for i := 0; i < 20; i++ {
		candidates = append(candidates, candidate{chunkID: fmt.Sprintf("c%d", i), embedding: []float32{1, float32(i)}})
	}
	if got := len(rankCandidates(query, candidates, 5)); got != 5 {
		t.Fatalf("expected 5 results, got %d", got)
	}
}

func TestRankCandidatesSkipsEmptyEmbeddings(t *testing.T) {
	query := []float32{1, 0}
	candidates := []candidate{
		{chunkID: "empty"},
		{chunkID: "ok", embedding: []float32{1, 0}},
	}
	results := rankCandidates(query, candidates, 10)
	if len(results) != 1 || results[0].ChunkID != "ok" {
		t.Fatalf("candidates without embeddings must be skipped: %+v", results)
	}
}

func TestRankCandidatesZeroNormScoresZero(t *testing.T) {
	query := []float32{1, 0}
	results := rankCandidates(query, []candidate{{chunkID: "zero", embedding: []float32{0, 0}}}, 1)
	if len(results) != 1 || results[0].Score != 0 {
		t.Fatalf("zero-norm embedding should score 0, got %+v", results)
	}
}

func TestBuildSearchQueryKnownColumns(t *testing.T) {
	sql, args := buildSearchQuery(map[string]string{"documentId": "doc-1", "source": "guide.pdf"}, 200)
	if !strings.Contains(sql, "document_id = $1") || !strings.Contains(sql, "source = $2") {
		t.Fatalf("known filters must map to typed columns in key order, got: %s", sql)
	}
	if len(args) != 3 || args[0] != "doc-1" || args[1] != "guide.pdf" || args[2] != 200 {
		t.Fatalf("unexpected args: %v", args)
	}
	if !strings.Contains(sql, "LIMIT $3") {
		t.Fatalf("candidate limit must be the final bind parameter, got: %s", sql)
	}
}

func TestBuildSearchQueryTagKeysAreBound(t *testing.T) {
	sql, args := buildSearchQuery(map[string]string{"crop": "coffee"}, 100)
	if !strings.Contains(sql, "tags->>($1::text) = $2") {
		t.Fatalf("tag filter must bind both key and value, got: %s", sql)
	}
	if len(args) != 3 || args[0] != "crop" || args[1] != "coffee" {
		t.Fatalf("expected key then value args, got: %v", args)
	}
}

func TestBuildSearchQueryHostileKeyNeverReachesSQL(t *testing.T) {
	key := `crop') = '' OR ('1'='1`
	sql, args := buildSearchQuery(map[string]string{key: "x"}, 50)
	if strings.Contains(sql, "'") || strings.Contains(sql, "OR (") {
		t.Fatalf("filter key leaked into the SQL text: %s", sql)
	}
	if len(args) != 3 || args[0] != key || args[1] != "x" {
		t.Fatalf("hostile key must travel as a bind argument, got: %v", args)
	}
}
