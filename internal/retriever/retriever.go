package retriever

import (
	"context"
	"fmt"
	"strings"

	"cropsense/internal/cache"
	"cropsense/internal/models"
	"cropsense/internal/providers"

	"go.uber.org/zap"
)

// Embedder is the slice of the embedding client the retriever uses.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, intent providers.EmbedIntent) ([][]float32, error)
}

// Searcher is satisfied by storage.ChunkStore.
type Searcher interface {
	Search(ctx context.Context, queryVec []float32, topK int, filters map[string]string) ([]models.RetrievedChunk, error)
}

// Params are per-call overrides; zero values fall back to the
// retriever's configured defaults.
type Params struct {
	TopK     int
	Filters  map[string]string
	MinScore *float64
}

type Retriever struct {
	embedder        Embedder
	searcher        Searcher
	queryCache      *cache.Cache[[]models.RetrievedChunk]
	defaultTopK     int
	defaultMinScore float64
	maxContextChars int
	logger          *zap.Logger
}

func New(embedder Embedder, searcher Searcher, queryCache *cache.Cache[[]models.RetrievedChunk],
	defaultTopK int, defaultMinScore float64, maxContextChars int, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder:        embedder,
		searcher:        searcher,
		queryCache:      queryCache,
		defaultTopK:     defaultTopK,
		defaultMinScore: defaultMinScore,
		maxContextChars: maxContextChars,
		logger:          logger,
	}
}

// Retrieve embeds the query and returns the chunks scoring at least
// minScore, best first. Because the threshold is applied after the
// store's topK cut, fewer than topK results may come back.
func (r *Retriever) Retrieve(ctx context.Context, query string, p Params) ([]models.RetrievedChunk, error) {
	topK := p.TopK
	if topK <= 0 {
		topK = r.defaultTopK
	}
	minScore := r.defaultMinScore
	if p.MinScore != nil {
		minScore = *p.MinScore
	}

	// topK is part of the key because cached results are already cut at
	// the topK they were fetched with.
	key := fmt.Sprintf("%s:k%d", cache.Key(query, p.Filters), topK)
	if cached, ok := r.queryCache.Get(key); ok {
		r.logger.Debug("query cache hit", zap.String("query", query))
		return filterByScore(cached, minScore), nil
	}

	vectors, err := r.embedder.EmbedBatch(ctx, []string{query}, providers.IntentQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vectors))
	}

	results, err := r.searcher.Search(ctx, vectors[0], topK, p.Filters)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	r.queryCache.Set(key, results)
	return filterByScore(results, minScore), nil
}

func filterByScore(results []models.RetrievedChunk, minScore float64) []models.RetrievedChunk {
	out := make([]models.RetrievedChunk, 0, len(results))
	for _, res := range results {
		if res.Score >= minScore {
			out = append(out, res)
		}
	}
	return out
}

// BuildContext formats retrieval results into the block handed to the
// generation prompt. Results are taken in ranked order; once the next
// formatted result would push past maxChars it and everything after it
// are dropped whole, never truncated mid-chunk.
func (r *Retriever) BuildContext(results []models.RetrievedChunk, maxChars int) string {
	if maxChars <= 0 {
		maxChars = r.maxContextChars
	}

	parts := make([]string, 0, len(results))
	currentLength := 0
	for _, res := range results {
		text := formatResult(res)
		if currentLength+len(text) > maxChars {
			break
		}
		parts = append(parts, text)
		currentLength += len(text)
	}
	return strings.Join(parts, "\n---\n")
}

func formatResult(res models.RetrievedChunk) string {
	m := res.Metadata
	header := []string{fmt.Sprintf("Source: %s", orUnknown(m.Source))}
	if m.PageNumber > 0 {
		header = append(header, fmt.Sprintf("Page: %d", m.PageNumber))
	}
	if m.DocumentType != "" {
		header = append(header, fmt.Sprintf("Type: %s", m.DocumentType))
	}
	if crop := m.Tags["crop"]; crop != "" {
		header = append(header, fmt.Sprintf("Crop: %s", crop))
	}
	if region := m.Tags["region"]; region != "" {
		header = append(header, fmt.Sprintf("Region: %s", region))
	}
	header = append(header, fmt.Sprintf("Relevance: %.2f", res.Score))
	return "[" + strings.Join(header, ", ") + "]\n" + res.Content + "\n"
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
