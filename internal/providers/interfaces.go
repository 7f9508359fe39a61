package providers

import "context"

// EmbedIntent tells the provider what the vectors will be used for.
// Document and query embeddings are produced by different task types
// and must be tagged correctly even though the model keeps them in a
// shared space.
type EmbedIntent string

const (
	IntentDocument EmbedIntent = "document"
	IntentQuery    EmbedIntent = "query"
)

type EmbedRequest struct {
	Inputs    []string    `json:"inputs"`
	Intent    EmbedIntent `json:"intent"`
	Dimension int         `json:"dimension"`
}

// EmbeddingProvider converts a batch of texts into fixed-dimension
// vectors. Implementations must preserve input order and length.
type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, error)
}

type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type GenerateRequest struct {
	Prompt string           `json:"prompt"`
	Config GenerationConfig `json:"config"`
	Safety []SafetySetting  `json:"safety,omitempty"`
}

type GenerationProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// DefaultGenerationConfig matches the settings the answer service has
// been tuned against.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.7,
		TopP:            0.8,
		TopK:            40,
		MaxOutputTokens: 2048,
	}
}

func DefaultSafetySettings() []SafetySetting {
	categories := []string{
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_HARASSMENT",
	}
	out := make([]SafetySetting, 0, len(categories))
	for _, c := range categories {
		out = append(out, SafetySetting{Category: c, Threshold: "BLOCK_MEDIUM_AND_ABOVE"})
	}
	return out
}
