package retriever

import (
	"context"
	"strings"
	"testing"
	"time"

	"cropsense/internal/cache"
	"cropsense/internal/models"
	"cropsense/internal/providers"
)

type stubEmbedder struct {
	calls int
	vec   []float32
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string, intent providers.EmbedIntent) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = s.vec
	}
	return out, nil
}

type stubSearcher struct {
	calls   int
	results []models.RetrievedChunk
	gotTopK int
}

func (s *stubSearcher) Search(ctx context.Context, queryVec []float32, topK int, filters map[string]string) ([]models.RetrievedChunk, error) {
	s.calls++
	s.gotTopK = topK
	return s.results, nil
}

func hit(id string, score float64) models.RetrievedChunk {
	return models.RetrievedChunk{
		ChunkID: id,
		Content: "content of " + id,
		Score:   score,
		Metadata: models.ChunkMetadata{
			Source:       "Maize Handbook",
			PageNumber:   4,
			DocumentType: "manual",
			Tags:         map[string]string{"crop": "maize", "region": "lusaka"},
		},
	}
}

func newTestRetriever(emb *stubEmbedder, search *stubSearcher) *Retriever {
	qc := cache.New[[]models.RetrievedChunk](10, time.Minute)
	return New(emb, search, qc, 5, 0.6, 8000, nil)
}

func TestRetrieveFiltersByMinScore(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1, 0}}
	search := &stubSearcher{results: []models.RetrievedChunk{hit("a", 0.9), hit("b", 0.7), hit("c", 0.4)}}
	r := newTestRetriever(emb, search)

	results, err := r.Retrieve(context.Background(), "maize spacing", Params{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results above default threshold 0.6, got %d", len(results))
	}
}

func TestRetrieveHighThresholdReturnsNothing(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1, 0}}
	search := &stubSearcher{results: []models.RetrievedChunk{hit("best", 0.7)}}
	r := newTestRetriever(emb, search)

	minScore := 0.9
	results, err := r.Retrieve(context.Background(), "q", Params{MinScore: &minScore})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected zero results when best score is below minScore, got %d", len(results))
	}
}

func TestRetrieveUsesDefaultTopK(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1, 0}}
	search := &stubSearcher{}
	r := newTestRetriever(emb, search)
	if _, err := r.Retrieve(context.Background(), "q", Params{}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if search.gotTopK != 5 {
		t.Fatalf("expected default topK 5, got %d", search.gotTopK)
	}
}

func TestRetrieveCachesSearchResults(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1, 0}}
	search := &stubSearcher{results: []models.RetrievedChunk{hit("a", 0.9)}}
	r := newTestRetriever(emb, search)

	if _, err := r.Retrieve(context.Background(), "Same Query", Params{}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if _, err := r.Retrieve(context.Background(), "  same query ", Params{}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if search.calls != 1 {
		t.Fatalf("second call should hit the query cache, searcher called %d times", search.calls)
	}
	if emb.calls != 1 {
		t.Fatalf("cached query must not be re-embedded, embedder called %d times", emb.calls)
	}
}

func TestRetrieveCacheKeyedByTopK(t *testing.T) {
	emb := &stubEmbedder{vec: []float32{1, 0}}
	search := &stubSearcher{results: []models.RetrievedChunk{hit("a", 0.9), hit("b", 0.8)}}
	r := newTestRetriever(emb, search)

	if _, err := r.Retrieve(context.Background(), "q", Params{TopK: 2}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if _, err := r.Retrieve(context.Background(), "q", Params{TopK: 10}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if search.calls != 2 {
		t.Fatalf("a wider topK must not reuse results cut at a narrower one, searcher called %d times", search.calls)
	}
	if search.gotTopK != 10 {
		t.Fatalf("second search should use topK 10, got %d", search.gotTopK)
	}

	if _, err := r.Retrieve(context.Background(), "q", Params{TopK: 10}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if search.calls != 2 {
		t.Fatalf("repeating the same topK should hit the cache, searcher called %d times", search.calls)
	}
}

func TestBuildContextHeaders(t *testing.T) {
	r := newTestRetriever(&stubEmbedder{}, &stubSearcher{})
	ctxStr := r.BuildContext([]models.RetrievedChunk{hit("a", 0.87)}, 0)
	for _, want := range []string{"Source: Maize Handbook", "Page: 4", "Type: manual", "Crop: maize", "Region: lusaka", "Relevance: 0.87"} {
		if !strings.Contains(ctxStr, want) {
			t.Fatalf("context missing %q:\n%s", want, ctxStr)
		}
	}
	if !strings.Contains(ctxStr, "content of a") {
		t.Fatal("context missing chunk content")
	}
}

func TestBuildContextDropsWholeResults(t *testing.T) {
	r := newTestRetriever(&stubEmbedder{}, &stubSearcher{})
	results := []models.RetrievedChunk{hit("a", 0.9), hit("b", 0.8), hit("c", 0.7)}

	full := r.BuildContext(results, 100000)
	first := len(formatResult(results[0]))

	// Budget fits only the first formatted result.
	small := r.BuildContext(results, first+10)
	if strings.Count(small, "content of") != 1 {
		t.Fatalf("expected exactly one whole result in tight budget, got:\n%s", small)
	}
	if !strings.HasPrefix(full, small) {
		t.Fatal("truncated context should be a prefix of the full context")
	}
	if strings.Contains(small, "content of b") {
		t.Fatal("second result must be dropped whole, not partially included")
	}
}

func TestBuildContextSeparator(t *testing.T) {
	r := newTestRetriever(&stubEmbedder{}, &stubSearcher{})
	out := r.BuildContext([]models.RetrievedChunk{hit("a", 0.9), hit("b", 0.8)}, 100000)
	if strings.Count(out, "\n---\n") != 1 {
		t.Fatalf("expected one separator between two results:\n%s", out)
	}
}
