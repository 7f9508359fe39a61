package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ResponseCacheStore keeps generated answers keyed by normalized query
// so repeated questions skip the generation provider entirely.
type ResponseCacheStore struct {
	db  *DB
	ttl time.Duration
}

func NewResponseCacheStore(db *DB, ttl time.Duration) *ResponseCacheStore {
	return &ResponseCacheStore{db: db, ttl: ttl}
}

// Get returns the cached answer for cacheKey if it exists and is
// younger than the TTL. A hit bumps the entry's hit count.
func (s *ResponseCacheStore) Get(ctx context.Context, cacheKey string) (string, bool, error) {
	var response string
	var cachedAt time.Time
	err := s.db.Pool.QueryRow(ctx, `
SELECT response, cached_at FROM response_cache WHERE cache_key = $1`, cacheKey).
		Scan(&response, &cachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached response: %w", err)
	}
	if expired(cachedAt, time.Now(), s.ttl) {
		// Lazy eviction keeps the table bounded by the TTL without a
		// separate cleanup job.
		if _, err := s.db.Pool.Exec(ctx, `
DELETE FROM response_cache WHERE cache_key = $1 AND cached_at = $2`, cacheKey, cachedAt); err != nil {
			return "", false, fmt.Errorf("evict expired response: %w", err)
		}
		return "", false, nil
	}
	if _, err := s.db.Pool.Exec(ctx, `
UPDATE response_cache SET hit_count = hit_count + 1 WHERE cache_key = $1`, cacheKey); err != nil {
		return "", false, fmt.Errorf("bump hit count: %w", err)
	}
	return response, true, nil
}

func expired(cachedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(cachedAt) > ttl
}

func (s *ResponseCacheStore) Put(ctx context.Context, cacheKey, query, response string) error {
	_, err := s.db.Pool.Exec(ctx, `
INSERT INTO response_cache (cache_key, query, response, cached_at, hit_count)
VALUES ($1, $2, $3, now(), 0)
ON CONFLICT (cache_key)
DO UPDATE SET
  query = EXCLUDED.query,
  response = EXCLUDED.response,
  cached_at = now()`,
		cacheKey, query, response)
	if err != nil {
		return fmt.Errorf("cache response: %w", err)
	}
	return nil
}
