package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// MockProvider returns deterministic embeddings and canned answers so
// the full pipeline runs without cloud credentials. The same input text
// always produces the same unit vector.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 768
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	_ = ctx
	if strings.Contains(req.Prompt, "Context from agricultural knowledge base") {
		return "Mock grounded answer based on the retrieved context.", nil
	}
	return "Mock answer from general agricultural knowledge.", nil
}

func deterministicVector(input string, dim int) []float32 {
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
