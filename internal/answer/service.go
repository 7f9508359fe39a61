package answer

import (
	"context"
	"fmt"
	"time"

	"cropsense/internal/cache"
	"cropsense/internal/models"
	"cropsense/internal/providers"
	"cropsense/internal/retriever"

	"go.uber.org/zap"
)

// Answer sources, reported to the caller so the UI can distinguish a
// grounded answer from a general one.
const (
	SourceCache     = "cache"
	SourceRateLimit = "rate_limit"
	SourceRAG       = "gemini_with_rag"
	SourceDirect    = "gemini_direct"
	SourceError     = "error"
)

const (
	rateLimitMessage = "Rate limit exceeded. Please try again in a few minutes."
	errorMessage     = "I'm having trouble generating a response right now. Please try again."
)

// ResponseCache is satisfied by storage.ResponseCacheStore.
type ResponseCache interface {
	Get(ctx context.Context, cacheKey string) (string, bool, error)
	Put(ctx context.Context, cacheKey, query, response string) error
}

type RateLimiter interface {
	CheckAndConsume(ctx context.Context, userID string) bool
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, p retriever.Params) ([]models.RetrievedChunk, error)
	BuildContext(results []models.RetrievedChunk, maxChars int) string
}

type Request struct {
	Query    string
	UseRAG   bool
	TopK     int
	Filters  map[string]string
	MinScore *float64
	UserID   string
}

type Result struct {
	Answer           string                  `json:"answer"`
	Source           string                  `json:"source"`
	Chunks           []models.RetrievedChunk `json:"chunks,omitempty"`
	Cached           bool                    `json:"cached"`
	GenerationTimeMs int64                   `json:"generation_time_ms"`
}

// Service walks each request through cache check, rate limit check,
// optional retrieval, prompt selection, generation, and cache write.
// It never propagates an internal error to the caller: any unexpected
// failure degrades to a generic apology tagged with the error source.
type Service struct {
	respCache         ResponseCache
	limiter           RateLimiter
	retriever         Retriever
	provider          providers.GenerationProvider
	genConfig         providers.GenerationConfig
	safety            []providers.SafetySetting
	fallbackThreshold float64
	maxContextChars   int
	logger            *zap.Logger
}

func NewService(respCache ResponseCache, limiter RateLimiter, retr Retriever,
	provider providers.GenerationProvider, fallbackThreshold float64, maxContextChars int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		respCache:         respCache,
		limiter:           limiter,
		retriever:         retr,
		provider:          provider,
		genConfig:         providers.DefaultGenerationConfig(),
		safety:            providers.DefaultSafetySettings(),
		fallbackThreshold: fallbackThreshold,
		maxContextChars:   maxContextChars,
		logger:            logger,
	}
}

func (s *Service) Answer(ctx context.Context, req Request) Result {
	start := time.Now()
	cacheKey := cache.Key(req.Query, nil)

	if cached, ok, err := s.respCache.Get(ctx, cacheKey); err != nil {
		// A broken cache is a miss, not a failure.
		s.logger.Warn("response cache read failed", zap.Error(err))
	} else if ok {
		return Result{Answer: cached, Source: SourceCache, Cached: true, GenerationTimeMs: 0}
	}

	if !s.limiter.CheckAndConsume(ctx, req.UserID) {
		return Result{Answer: rateLimitMessage, Source: SourceRateLimit}
	}

	prompt, source, chunks := s.selectPrompt(ctx, req)

	answer, err := s.provider.Generate(ctx, providers.GenerateRequest{
		Prompt: prompt,
		Config: s.genConfig,
		Safety: s.safety,
	})
	if err != nil {
		s.logger.Error("generation failed",
			zap.String("source", source),
			zap.String("error_type", string(providers.ClassifyError(err))),
			zap.Error(err))
		return Result{Answer: errorMessage, Source: SourceError}
	}

	if err := s.respCache.Put(ctx, cacheKey, cache.NormalizeQuery(req.Query), answer); err != nil {
		s.logger.Warn("response cache write failed", zap.Error(err))
	}

	return Result{
		Answer:           answer,
		Source:           source,
		Chunks:           chunks,
		GenerationTimeMs: time.Since(start).Milliseconds(),
	}
}

// selectPrompt decides RAG vs direct. RAG is used only when retrieval
// produced results and the best score clears the fallback threshold;
// retrieval failure falls through to the direct prompt instead of
// failing the request.
func (s *Service) selectPrompt(ctx context.Context, req Request) (prompt, source string, chunks []models.RetrievedChunk) {
	if !req.UseRAG {
		return directPrompt(req.Query), SourceDirect, nil
	}

	results, err := s.retriever.Retrieve(ctx, req.Query, retriever.Params{
		TopK:     req.TopK,
		Filters:  req.Filters,
		MinScore: req.MinScore,
	})
	if err != nil {
		s.logger.Warn("retrieval failed, falling back to direct prompt", zap.Error(err))
		return directPrompt(req.Query), SourceDirect, nil
	}
	if len(results) == 0 || results[0].Score < s.fallbackThreshold {
		return directPrompt(req.Query), SourceDirect, nil
	}

	contextBlock := s.retriever.BuildContext(results, s.maxContextChars)
	return ragPrompt(req.Query, contextBlock), SourceRAG, results
}

func ragPrompt(query, contextBlock string) string {
	return fmt.Sprintf(`You are an expert agricultural advisor helping farmers with their questions.
Use the following retrieved information from agricultural documents to answer the question accurately and helpfully.

Context from agricultural knowledge base:
%s

Question: %s

Instructions:
- Provide a clear, practical answer based on the context above
- If the context doesn't contain relevant information, say so honestly
- Focus on actionable advice that farmers can implement
- Use simple, clear language
- Cite specific sources when mentioning information

Answer:`, contextBlock, query)
}

func directPrompt(query string) string {
	return fmt.Sprintf(`You are an expert agricultural advisor helping farmers with their questions about farming, crop management, pest control, and sustainable agriculture.

Question: %s

Instructions:
- Provide accurate, practical advice based on general agricultural knowledge
- Focus on actionable guidance that farmers can implement
- Use simple, clear language
- If you're uncertain about specific details, acknowledge the limitations
- Recommend consulting local agricultural extension services for region-specific advice

Answer:`, query)
}
