package providers

import (
	"fmt"
	"strings"
)

// BuildEmbeddingProvider maps a configured provider name to an
// implementation. dim is the fallback dimension for the mock provider.
func BuildEmbeddingProvider(name string, dim int) (EmbeddingProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mock":
		return NewMockProvider(dim), nil
	case "vertex":
		return NewVertexEmbeddingProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", name)
	}
}

func BuildGenerationProvider(name string, dim int) (GenerationProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mock":
		return NewMockProvider(dim), nil
	case "gemini":
		return NewGeminiProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", name)
	}
}
