package embedding

import (
	"context"
	"fmt"
	"time"

	"cropsense/internal/providers"

	"go.uber.org/zap"
)

// RetryPolicy drives the retry loop around provider calls: up to
// MaxAttempts tries with BaseDelay * 2^attempt between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<attempt)
}

// Client batches texts through an EmbeddingProvider with retries.
// It is the only component in the engine that retries provider calls;
// everything else fails fast to its caller.
type Client struct {
	provider providers.EmbeddingProvider
	dim      int
	policy   RetryPolicy
	logger   *zap.Logger
}

func NewClient(provider providers.EmbeddingProvider, dim int, policy RetryPolicy, logger *zap.Logger) *Client {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{provider: provider, dim: dim, policy: policy, logger: logger}
}

func (c *Client) Dimension() int {
	return c.dim
}

// EmbedBatch converts texts to vectors, preserving order and length.
// An empty input returns an empty slice without touching the provider.
// Transient provider errors are retried per the policy; exhausting the
// policy is fatal for the batch and the caller is responsible for
// marking the owning document failed.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, intent providers.EmbedIntent) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := providers.EmbedRequest{Inputs: texts, Intent: intent, Dimension: c.dim}
	var lastErr error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.policy.backoff(attempt)
			c.logger.Warn("retrying embedding batch",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.String("error_type", string(providers.ClassifyError(lastErr))),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vectors, err := c.provider.Embed(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for i, v := range vectors {
			if len(v) != c.dim {
				return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), c.dim)
			}
		}
		return vectors, nil
	}
	return nil, fmt.Errorf("embedding batch failed after %d attempts: %w", c.policy.MaxAttempts, lastErr)
}

// BatchResult carries one async batch outcome.
type BatchResult struct {
	Vectors [][]float32
	Err     error
}

// EmbedBatchAsync runs EmbedBatch in a goroutine and delivers the
// result on the returned channel. Interactive query paths block on
// EmbedBatch directly; ingestion drivers that want to overlap work with
// other I/O use this form.
func (c *Client) EmbedBatchAsync(ctx context.Context, texts []string, intent providers.EmbedIntent) <-chan BatchResult {
	ch := make(chan BatchResult, 1)
	go func() {
		vectors, err := c.EmbedBatch(ctx, texts, intent)
		ch <- BatchResult{Vectors: vectors, Err: err}
		close(ch)
	}()
	return ch
}
