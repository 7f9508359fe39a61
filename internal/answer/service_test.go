package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cropsense/internal/models"
	"cropsense/internal/providers"
	"cropsense/internal/retriever"
)

type memResponseCache struct {
	entries map[string]string
	getErr  error
	putErr  error
	puts    int
}

func newMemResponseCache() *memResponseCache {
	return &memResponseCache{entries: make(map[string]string)}
}

func (m *memResponseCache) Get(_ context.Context, key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memResponseCache) Put(_ context.Context, key, _, response string) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[key] = response
	return nil
}

type stubLimiter struct{ allow bool }

func (s stubLimiter) CheckAndConsume(context.Context, string) bool { return s.allow }

type stubRetriever struct {
	results []models.RetrievedChunk
	err     error
	calls   int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, _ retriever.Params) ([]models.RetrievedChunk, error) {
	s.calls++
	return s.results, s.err
}

func (s *stubRetriever) BuildContext(results []models.RetrievedChunk, _ int) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, "\n---\n")
}

type stubGenerator struct {
	answer  string
	err     error
	prompts []string
}

func (s *stubGenerator) Generate(_ context.Context, req providers.GenerateRequest) (string, error) {
	s.prompts = append(s.prompts, req.Prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func newTestService(rc ResponseCache, allow bool, retr *stubRetriever, gen *stubGenerator) *Service {
	return NewService(rc, stubLimiter{allow: allow}, retr, gen, 0.5, 8000, nil)
}

func highScoreResults() []models.RetrievedChunk {
	return []models.RetrievedChunk{
		{ChunkID: "doc1_chunk_0000", Content: "Rotate crops every season.", Score: 0.82},
		{ChunkID: "doc1_chunk_0001", Content: "Use cover crops in winter.", Score: 0.71},
	}
}

func TestAnswerUsesRAGAboveThreshold(t *testing.T) {
	rc := newMemResponseCache()
	retr := &stubRetriever{results: highScoreResults()}
	gen := &stubGenerator{answer: "Rotate your crops."}
	svc := newTestService(rc, true, retr, gen)

	res := svc.Answer(context.Background(), Request{Query: "How do I keep soil healthy?", UseRAG: true})
	if res.Source != SourceRAG {
		t.Fatalf("source = %q, want %q", res.Source, SourceRAG)
	}
	if res.Answer != "Rotate your crops." {
		t.Fatalf("answer = %q", res.Answer)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(res.Chunks))
	}
	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "Context from agricultural knowledge base") {
		t.Fatalf("expected a grounded prompt, got %q", gen.prompts)
	}
	if !strings.Contains(gen.prompts[0], "Rotate crops every season.") {
		t.Fatalf("prompt missing retrieved content")
	}
}

func TestAnswerFallsBackBelowThreshold(t *testing.T) {
	rc := newMemResponseCache()
	retr := &stubRetriever{results: []models.RetrievedChunk{
		{ChunkID: "doc1_chunk_0000", Content: "Irrelevant.", Score: 0.31},
	}}
	gen := &stubGenerator{answer: "General advice."}
	svc := newTestService(rc, true, retr, gen)

	res := svc.Answer(context.Background(), Request{Query: "What is quantum computing?", UseRAG: true})
	if res.Source != SourceDirect {
		t.Fatalf("source = %q, want %q", res.Source, SourceDirect)
	}
	if len(res.Chunks) != 0 {
		t.Fatalf("direct answers must not attach chunks, got %d", len(res.Chunks))
	}
	if strings.Contains(gen.prompts[0], "Context from agricultural knowledge base") {
		t.Fatalf("prompt should not be grounded")
	}
}

func TestAnswerFallsBackOnRetrievalError(t *testing.T) {
	rc := newMemResponseCache()
	retr := &stubRetriever{err: errors.New("search unavailable")}
	gen := &stubGenerator{answer: "General advice."}
	svc := newTestService(rc, true, retr, gen)

	res := svc.Answer(context.Background(), Request{Query: "When to plant wheat?", UseRAG: true})
	if res.Source != SourceDirect {
		t.Fatalf("source = %q, want %q", res.Source, SourceDirect)
	}
	if res.Answer != "General advice." {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestAnswerDirectWhenRAGDisabled(t *testing.T) {
	rc := newMemResponseCache()
	retr := &stubRetriever{results: highScoreResults()}
	gen := &stubGenerator{answer: "General advice."}
	svc := newTestService(rc, true, retr, gen)

	res := svc.Answer(context.Background(), Request{Query: "When to plant wheat?", UseRAG: false})
	if res.Source != SourceDirect {
		t.Fatalf("source = %q, want %q", res.Source, SourceDirect)
	}
	if retr.calls != 0 {
		t.Fatalf("retriever called %d times, want 0", retr.calls)
	}
}

func TestAnswerCacheHitSkipsEverything(t *testing.T) {
	rc := newMemResponseCache()
	retr := &stubRetriever{results: highScoreResults()}
	gen := &stubGenerator{answer: "Fresh answer."}
	svc := newTestService(rc, true, retr, gen)

	first := svc.Answer(context.Background(), Request{Query: "How do I keep soil healthy?", UseRAG: true})
	if first.Cached {
		t.Fatalf("first answer should not be cached")
	}

	// Normalized variant of the same query must hit the cache.
	second := svc.Answer(context.Background(), Request{Query: "  HOW do I keep soil healthy?  ", UseRAG: true})
	if second.Source != SourceCache || !second.Cached {
		t.Fatalf("source = %q cached = %v, want cache hit", second.Source, second.Cached)
	}
	if second.Answer != "Fresh answer." {
		t.Fatalf("answer = %q", second.Answer)
	}
	if second.GenerationTimeMs != 0 {
		t.Fatalf("cached answers report zero generation time, got %d", second.GenerationTimeMs)
	}
	if retr.calls != 1 || len(gen.prompts) != 1 {
		t.Fatalf("cache hit should not retrieve or generate again")
	}
}

func TestAnswerRateLimited(t *testing.T) {
	rc := newMemResponseCache()
	retr := &stubRetriever{results: highScoreResults()}
	gen := &stubGenerator{answer: "never"}
	svc := newTestService(rc, false, retr, gen)

	res := svc.Answer(context.Background(), Request{Query: "How do I keep soil healthy?", UseRAG: true})
	if res.Source != SourceRateLimit {
		t.Fatalf("source = %q, want %q", res.Source, SourceRateLimit)
	}
	if res.Answer != rateLimitMessage {
		t.Fatalf("answer = %q", res.Answer)
	}
	if retr.calls != 0 || len(gen.prompts) != 0 {
		t.Fatalf("rejected requests must not retrieve or generate")
	}
	if rc.puts != 0 {
		t.Fatalf("rejected requests must not be cached")
	}
}

func TestAnswerGenerationErrorReturnsApology(t *testing.T) {
	rc := newMemResponseCache()
	retr := &stubRetriever{results: highScoreResults()}
	gen := &stubGenerator{err: errors.New("quota exceeded for model")}
	svc := newTestService(rc, true, retr, gen)

	res := svc.Answer(context.Background(), Request{Query: "How do I keep soil healthy?", UseRAG: true})
	if res.Source != SourceError {
		t.Fatalf("source = %q, want %q", res.Source, SourceError)
	}
	if res.Answer != errorMessage {
		t.Fatalf("answer = %q", res.Answer)
	}
	if rc.puts != 0 {
		t.Fatalf("failed generations must not be cached")
	}
}

func TestAnswerCacheFailuresAreNonFatal(t *testing.T) {
	rc := newMemResponseCache()
	rc.getErr = errors.New("connection refused")
	rc.putErr = errors.New("connection refused")
	retr := &stubRetriever{results: highScoreResults()}
	gen := &stubGenerator{answer: "Still works."}
	svc := newTestService(rc, true, retr, gen)

	res := svc.Answer(context.Background(), Request{Query: "How do I keep soil healthy?", UseRAG: true})
	if res.Source != SourceRAG || res.Answer != "Still works." {
		t.Fatalf("cache failures must not break answering, got source %q answer %q", res.Source, res.Answer)
	}
}
