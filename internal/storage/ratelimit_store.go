package storage

import (
	"context"
	"errors"
	"fmt"

	"cropsense/internal/models"

	"github.com/jackc/pgx/v5"
)

// RateLimitStore persists per-user request counters. The limiter owns
// the mutation logic; this store only loads and saves records.
type RateLimitStore struct {
	db *DB
}

func NewRateLimitStore(db *DB) *RateLimitStore {
	return &RateLimitStore{db: db}
}

func (s *RateLimitStore) Get(ctx context.Context, userID string) (*models.RateLimitRecord, error) {
	var rec models.RateLimitRecord
	err := s.db.Pool.QueryRow(ctx, `
SELECT user_id, requests_this_hour, current_hour, total_requests, first_request_at, last_request_at
FROM rate_limits WHERE user_id = $1`, userID).
		Scan(&rec.UserID, &rec.RequestsThisHour, &rec.CurrentHour, &rec.TotalRequests, &rec.FirstRequestAt, &rec.LastRequestAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit record for %s: %w", userID, err)
	}
	return &rec, nil
}

func (s *RateLimitStore) Put(ctx context.Context, rec models.RateLimitRecord) error {
	_, err := s.db.Pool.Exec(ctx, `
INSERT INTO rate_limits (user_id, requests_this_hour, current_hour, total_requests, first_request_at, last_request_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id)
DO UPDATE SET
  requests_this_hour = EXCLUDED.requests_this_hour,
  current_hour = EXCLUDED.current_hour,
  total_requests = EXCLUDED.total_requests,
  last_request_at = EXCLUDED.last_request_at`,
		rec.UserID, rec.RequestsThisHour, rec.CurrentHour, rec.TotalRequests, rec.FirstRequestAt, rec.LastRequestAt)
	if err != nil {
		return fmt.Errorf("put rate limit record for %s: %w", rec.UserID, err)
	}
	return nil
}
