package ratelimit

import (
	"context"
	"time"

	"cropsense/internal/models"

	"go.uber.org/zap"
)

// AnonymousUser is the reserved identifier for unauthenticated callers.
const AnonymousUser = "system"

// Store is the persistence the limiter needs. Satisfied by
// storage.RateLimitStore.
type Store interface {
	Get(ctx context.Context, userID string) (*models.RateLimitRecord, error)
	Put(ctx context.Context, rec models.RateLimitRecord) error
}

// Limiter bounds generation calls per user per hour bucket. When the
// backing store is unreachable it fails open.
type Limiter struct {
	store      Store
	maxPerHour int
	logger     *zap.Logger
	now        func() time.Time
}

func NewLimiter(store Store, maxPerHour int, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, maxPerHour: maxPerHour, logger: logger, now: time.Now}
}

// CheckAndConsume reports whether userID may make another generation
// call, consuming one unit of quota when allowed. A rejection mutates
// nothing. An empty userID maps to the anonymous identifier.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID string) bool {
	if userID == "" {
		userID = AnonymousUser
	}
	now := l.now()
	currentHour := now.Unix() / 3600

	rec, err := l.store.Get(ctx, userID)
	if err != nil {
		l.logger.Warn("rate limit store unreachable, failing open", zap.String("user_id", userID), zap.Error(err))
		return true
	}

	if rec == nil {
		fresh := models.RateLimitRecord{
			UserID:           userID,
			RequestsThisHour: 1,
			CurrentHour:      currentHour,
			TotalRequests:    1,
			FirstRequestAt:   now,
			LastRequestAt:    now,
		}
		if err := l.store.Put(ctx, fresh); err != nil {
			l.logger.Warn("rate limit record create failed, failing open", zap.String("user_id", userID), zap.Error(err))
		}
		return true
	}

	if rec.CurrentHour != currentHour {
		rec.RequestsThisHour = 1
		rec.CurrentHour = currentHour
		rec.TotalRequests++
		rec.LastRequestAt = now
		if err := l.store.Put(ctx, *rec); err != nil {
			l.logger.Warn("rate limit reset failed, failing open", zap.String("user_id", userID), zap.Error(err))
		}
		return true
	}

	if rec.RequestsThisHour >= l.maxPerHour {
		l.logger.Info("rate limit exceeded",
			zap.String("user_id", userID),
			zap.Int("requests_this_hour", rec.RequestsThisHour),
			zap.Int("max_per_hour", l.maxPerHour))
		return false
	}

	rec.RequestsThisHour++
	rec.TotalRequests++
	rec.LastRequestAt = now
	if err := l.store.Put(ctx, *rec); err != nil {
		l.logger.Warn("rate limit increment failed, failing open", zap.String("user_id", userID), zap.Error(err))
	}
	return true
}
