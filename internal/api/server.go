package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"cropsense/internal/answer"
	"cropsense/internal/cache"
	"cropsense/internal/config"
	"cropsense/internal/embedding"
	"cropsense/internal/models"
	"cropsense/internal/providers"
	"cropsense/internal/ratelimit"
	"cropsense/internal/retriever"
	"cropsense/internal/storage"
	"cropsense/internal/workflows"
)

type Server struct {
	cfg        config.Config
	db         *storage.DB
	chunks     *storage.ChunkStore
	status     *storage.StatusStore
	queryCache *cache.Cache[[]models.RetrievedChunk]
	retriever  *retriever.Retriever
	answers    *answer.Service
	temporal   tclient.Client
	logger     *zap.Logger
}

func NewServer(cfg config.Config, logger *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	embedProvider, err := providers.BuildEmbeddingProvider(cfg.EmbedProvider, cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	genProvider, err := providers.BuildGenerationProvider(cfg.GenerationProvider, cfg.EmbedDim)
	if err != nil {
		return nil, err
	}

	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return nil, fmt.Errorf("connect temporal: %w", err)
	}

	embedClient := embedding.NewClient(embedProvider, cfg.EmbedDim,
		embedding.RetryPolicy{MaxAttempts: cfg.EmbedMaxAttempts, BaseDelay: time.Second}, logger)
	chunks := storage.NewChunkStore(db, cfg.CommitBatchSize, cfg.CandidateLimit)
	queryCache := cache.New[[]models.RetrievedChunk](cfg.QueryCacheSize,
		time.Duration(cfg.QueryCacheTTLSeconds)*time.Second)
	retr := retriever.New(embedClient, chunks, queryCache,
		cfg.TopKResults, cfg.SimilarityThreshold, cfg.MaxContextChars, logger)

	respCache := storage.NewResponseCacheStore(db, time.Duration(cfg.ResponseTTLHours)*time.Hour)
	limiter := ratelimit.NewLimiter(storage.NewRateLimitStore(db), cfg.MaxRequestsPerHour, logger)
	answers := answer.NewService(respCache, limiter, retr, genProvider,
		cfg.FallbackThreshold, cfg.MaxContextChars, logger)

	return &Server{
		cfg:        cfg,
		db:         db,
		chunks:     chunks,
		status:     storage.NewStatusStore(db),
		queryCache: queryCache,
		retriever:  retr,
		answers:    answers,
		temporal:   tc,
		logger:     logger,
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/answer", s.handleAnswer)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentScoped)
	mux.HandleFunc("/ingest", s.handleIngest)
	mux.HandleFunc("/stats", s.handleStats)
	return withCORS(mux)
}

func (s *Server) Close() {
	s.temporal.Close()
	s.db.Close()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type queryRequest struct {
	Query    string            `json:"query"`
	TopK     int               `json:"top_k,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
	MinScore *float64          `json:"min_score,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}

	results, err := s.retriever.Retrieve(r.Context(), req.Query, retriever.Params{
		TopK:     req.TopK,
		Filters:  req.Filters,
		MinScore: req.MinScore,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunks":          results,
		"total_retrieved": len(results),
		"context":         s.retriever.BuildContext(results, 0),
	})
}

type answerRequest struct {
	Query    string            `json:"query"`
	UseRAG   *bool             `json:"use_rag,omitempty"`
	TopK     int               `json:"top_k,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
	MinScore *float64          `json:"min_score,omitempty"`
	UserID   string            `json:"user_id,omitempty"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if !s.cfg.GenerationEnabled {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("generation is disabled"))
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}
	useRAG := true
	if req.UseRAG != nil {
		useRAG = *req.UseRAG
	}

	res := s.answers.Answer(r.Context(), answer.Request{
		Query:    req.Query,
		UseRAG:   useRAG,
		TopK:     req.TopK,
		Filters:  req.Filters,
		MinScore: req.MinScore,
		UserID:   req.UserID,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	docs, err := s.chunks.ListDocuments(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": len(docs)})
}

func (s *Server) handleDocumentScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	documentID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		deleted, err := s.chunks.DeleteByDocument(r.Context(), documentID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		// Retrieval must not serve chunks that no longer exist.
		s.queryCache.Clear()
		writeJSON(w, http.StatusOK, map[string]any{"document_id": documentID, "deleted_chunks": deleted})
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		st, err := s.status.GetStatus(r.Context(), documentID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if st == nil {
			writeErr(w, http.StatusNotFound, fmt.Errorf("document not found"))
			return
		}
		writeJSON(w, http.StatusOK, st)
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

type ingestRequest struct {
	InputDir     string            `json:"input_dir,omitempty"`
	Path         string            `json:"path,omitempty"`
	DocumentID   string            `json:"document_id,omitempty"`
	Name         string            `json:"name,omitempty"`
	DocumentType string            `json:"document_type,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// handleIngest starts a corpus workflow when input_dir is given, or a
// single document workflow when path is given.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}

	opts := tclient.StartWorkflowOptions{
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	// No explicit target means the configured drop directory.
	if req.InputDir == "" && req.Path == "" {
		req.InputDir = s.cfg.DataInRoot
	}

	switch {
	case req.InputDir != "":
		opts.ID = "corpus-ingest-" + uuid.NewString()
		we, err := s.temporal.ExecuteWorkflow(r.Context(), opts, workflows.CorpusIngestWorkflow, workflows.CorpusIngestInput{
			InputDir:              req.InputDir,
			DocumentType:          req.DocumentType,
			Tags:                  req.Tags,
			MaxConcurrentChildren: s.cfg.IngestMaxChildren,
			EmbedBatchSize:        s.cfg.EmbedBatchSize,
		})
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
	case req.Path != "":
		opts.ID = "document-ingest-" + uuid.NewString()
		we, err := s.temporal.ExecuteWorkflow(r.Context(), opts, workflows.DocumentIngestWorkflow, workflows.DocumentIngestInput{
			Path:           req.Path,
			DocumentID:     req.DocumentID,
			Name:           req.Name,
			DocumentType:   req.DocumentType,
			Tags:           req.Tags,
			EmbedBatchSize: s.cfg.EmbedBatchSize,
		})
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
	default:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("input_dir or path is required"))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	total, err := s.chunks.CountChunks(r.Context(), "")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	docs, err := s.chunks.ListDocuments(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_chunks":    total,
		"total_documents": len(docs),
		"query_cache":     s.queryCache.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string
	Message string
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "CS-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	if status >= 500 {
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{Code: "CS-DB-5001", Message: "Database schema is not initialized. Run migrations and retry."}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "CS-DB-5002", Message: "Database connection is unavailable. Check local services and retry."}
		case strings.Contains(raw, "generation is disabled"):
			return apiError{Code: "CS-API-5030", Message: "Answer generation is disabled on this deployment."}
		default:
			return apiError{Code: "CS-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	}

	switch status {
	case http.StatusBadRequest:
		code = "CS-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case http.StatusNotFound:
		code = "CS-API-4004"
		msg = "Requested resource was not found."
	case http.StatusConflict:
		code = "CS-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case http.StatusMethodNotAllowed:
		code = "CS-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "query is required"):
			msg = "Query text is required."
		case strings.Contains(raw, "input_dir or path is required"):
			msg = "Provide a directory or a file to ingest."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "document not found"):
			msg = "Document was not found."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
