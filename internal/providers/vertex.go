package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// VertexEmbeddingProvider calls the Vertex AI text embedding REST API.
type VertexEmbeddingProvider struct {
	project  string
	location string
	model    string
	token    string
	client   *http.Client
}

func NewVertexEmbeddingProvider() *VertexEmbeddingProvider {
	return &VertexEmbeddingProvider{
		project:  os.Getenv("GOOGLE_CLOUD_PROJECT"),
		location: envOr("VERTEX_AI_LOCATION", "us-east1"),
		model:    envOr("CROPSENSE_EMBEDDING_MODEL", "text-embedding-005"),
		token:    os.Getenv("GOOGLE_ACCESS_TOKEN"),
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *VertexEmbeddingProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	if p.project == "" || p.token == "" {
		return nil, fmt.Errorf("vertex embedding credentials missing (GOOGLE_CLOUD_PROJECT, GOOGLE_ACCESS_TOKEN)")
	}
	if len(req.Inputs) == 0 {
		return [][]float32{}, nil
	}

	instances := make([]map[string]string, 0, len(req.Inputs))
	for _, text := range req.Inputs {
		instances = append(instances, map[string]string{
			"task_type": taskType(req.Intent),
			"content":   text,
		})
	}
	payload, _ := json.Marshal(map[string]any{
		"instances":  instances,
		"parameters": map[string]any{"outputDimensionality": req.Dimension},
	})

	url := fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		p.location, p.project, p.location, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("vertex embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("vertex embedding error %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Predictions []struct {
			Embeddings struct {
				Values []float32 `json:"values"`
			} `json:"embeddings"`
		} `json:"predictions"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Predictions) != len(req.Inputs) {
		return nil, fmt.Errorf("vertex returned %d embeddings for %d inputs", len(parsed.Predictions), len(req.Inputs))
	}
	out := make([][]float32, 0, len(parsed.Predictions))
	for _, pr := range parsed.Predictions {
		out = append(out, pr.Embeddings.Values)
	}
	return out, nil
}

func taskType(intent EmbedIntent) string {
	if intent == IntentQuery {
		return "QUESTION_ANSWERING"
	}
	return "RETRIEVAL_DOCUMENT"
}

func envOr(k, fallback string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fallback
}
