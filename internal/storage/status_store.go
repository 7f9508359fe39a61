package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cropsense/internal/models"

	"github.com/jackc/pgx/v5"
)

// StatusStore tracks per-document ingestion lifecycle records.
type StatusStore struct {
	db *DB
}

func NewStatusStore(db *DB) *StatusStore {
	return &StatusStore{db: db}
}

// UpdateStatus creates the record on first touch and advances it
// afterwards. Metadata and error message are only overwritten when
// provided, so a completed record keeps its page counts.
func (s *StatusStore) UpdateStatus(ctx context.Context, documentID, status string, metadata map[string]string, errorMessage string) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal status metadata: %w", err)
		}
	}
	_, err := s.db.Pool.Exec(ctx, `
INSERT INTO document_status (document_id, status, metadata, error_message, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), now(), now())
ON CONFLICT (document_id)
DO UPDATE SET
  status = EXCLUDED.status,
  metadata = COALESCE(EXCLUDED.metadata, document_status.metadata),
  error_message = COALESCE(EXCLUDED.error_message, document_status.error_message),
  updated_at = now()`,
		documentID, status, metaJSON, errorMessage)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", documentID, err)
	}
	return nil
}

// GetStatus returns the record for documentID, or (nil, nil) when the
// document has never been ingested.
func (s *StatusStore) GetStatus(ctx context.Context, documentID string) (*models.DocumentStatus, error) {
	var st models.DocumentStatus
	var metaJSON []byte
	var errorMessage *string
	err := s.db.Pool.QueryRow(ctx, `
SELECT document_id, status, metadata, error_message, created_at, updated_at
FROM document_status WHERE document_id = $1`, documentID).
		Scan(&st.DocumentID, &st.Status, &metaJSON, &errorMessage, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status for %s: %w", documentID, err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &st.Metadata); err != nil {
			return nil, fmt.Errorf("decode status metadata: %w", err)
		}
	}
	if errorMessage != nil {
		st.ErrorMessage = *errorMessage
	}
	return &st, nil
}

// IsProcessed reports whether the document already completed ingestion,
// either by id or by content hash when one is supplied.
func (s *StatusStore) IsProcessed(ctx context.Context, documentID, fileHash string) (bool, error) {
	st, err := s.GetStatus(ctx, documentID)
	if err != nil {
		return false, err
	}
	if st != nil && st.Status == models.StatusCompleted {
		return true, nil
	}
	if fileHash == "" {
		return false, nil
	}
	var count int
	err = s.db.Pool.QueryRow(ctx, `
SELECT COUNT(*) FROM document_status
WHERE status = $1 AND metadata->>'fileHash' = $2`, models.StatusCompleted, fileHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check file hash: %w", err)
	}
	return count > 0, nil
}
