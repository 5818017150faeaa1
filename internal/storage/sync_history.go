package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSyncHistory records a new PENDING sync attempt for a version.
func (s *Store) CreateSyncHistory(ctx context.Context, versionID string) (*SyncHistory, error) {
	h := &SyncHistory{
		ID:        uuid.NewString(),
		VersionID: versionID,
		Status:    SyncPending,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_history (id, version_id, status, created_at)
		VALUES (?, ?, ?, ?)`,
		h.ID, h.VersionID, string(h.Status), formatTime(h.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert sync history: %w", err)
	}
	return h, nil
}

// StartSync moves a PENDING row to RUNNING. The update only applies when no
// other row of the same version is RUNNING, so of two racing callers exactly
// one succeeds; the other gets ErrSyncInProgress.
func (s *Store) StartSync(ctx context.Context, id string) (*SyncHistory, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = 'RUNNING', started_at = ?
		WHERE id = ? AND status = 'PENDING'
		  AND NOT EXISTS (
			SELECT 1 FROM sync_history r
			WHERE r.version_id = sync_history.version_id AND r.status = 'RUNNING'
		  )`,
		formatTime(now), id)
	if isUniqueViolation(err) {
		return nil, ErrSyncInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("start sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return s.GetSyncHistory(ctx, id)
	}

	h, err := s.GetSyncHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Status != SyncPending {
		return nil, fmt.Errorf("%w: %s -> RUNNING", ErrInvalidTransition, h.Status)
	}
	return nil, ErrSyncInProgress
}

// FinishSync writes a terminal status. RUNNING rows may become SUCCESS or
// FAILED; PENDING rows may only become FAILED (a run that never started).
func (s *Store) FinishSync(ctx context.Context, id string, status SyncStatus, counts SyncCounts, detail string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	// Only FAILED may close a run that never left PENDING.
	allowPending := boolInt(status == SyncFailed)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = ?, finished_at = ?, error_detail = ?,
		    documents_seen = ?, documents_updated = ?, documents_skipped = ?, documents_failed = ?
		WHERE id = ? AND (status = 'RUNNING' OR (status = 'PENDING' AND ? = 1))`,
		string(status), formatTime(s.now()), detail,
		counts.Seen, counts.Updated, counts.Skipped, counts.Failed, id, allowPending)
	if err != nil {
		return fmt.Errorf("finish sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	h, err := s.GetSyncHistory(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.Status, status)
}

const syncColumns = `id, version_id, status, started_at, finished_at, error_detail,
	documents_seen, documents_updated, documents_skipped, documents_failed, created_at`

func scanSyncHistory(row interface{ Scan(...any) error }) (*SyncHistory, error) {
	var (
		h          SyncHistory
		status     string
		startedAt  sql.NullString
		finishedAt sql.NullString
		createdAt  string
	)
	if err := row.Scan(&h.ID, &h.VersionID, &status, &startedAt, &finishedAt, &h.ErrorDetail,
		&h.DocumentsSeen, &h.DocumentsUpdated, &h.DocumentsSkipped, &h.DocumentsFailed, &createdAt); err != nil {
		return nil, err
	}
	h.Status = SyncStatus(status)
	h.StartedAt = timePtr(startedAt)
	h.FinishedAt = timePtr(finishedAt)
	h.CreatedAt = parseTime(createdAt)
	return &h, nil
}

// GetSyncHistory returns one sync record.
func (s *Store) GetSyncHistory(ctx context.Context, id string) (*SyncHistory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM sync_history WHERE id = ?`, id)
	h, err := scanSyncHistory(row)
	if err != nil {
		return nil, notFound(err, "sync "+id)
	}
	return h, nil
}

// ListSyncHistory returns the most recent sync records of a version, newest first.
func (s *Store) ListSyncHistory(ctx context.Context, versionID string, limit int) ([]*SyncHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncColumns+` FROM sync_history WHERE version_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		versionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync history: %w", err)
	}
	defer rows.Close()

	var out []*SyncHistory
	for rows.Next() {
		h, err := scanSyncHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountRunning returns how many RUNNING rows exist for a version.
func (s *Store) CountRunning(ctx context.Context, versionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_history WHERE version_id = ? AND status = 'RUNNING'`, versionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running syncs: %w", err)
	}
	return n, nil
}

// FailStaleSyncs closes RUNNING rows started before cutoff and PENDING rows
// created before cutoff as FAILED. It returns how many rows were closed.
func (s *Store) FailStaleSyncs(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = 'FAILED', finished_at = ?, error_detail = ?
		WHERE (status = 'RUNNING' AND started_at < ?)
		   OR (status = 'PENDING' AND created_at < ?)`,
		formatTime(s.now()), reason, formatTime(cutoff), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("fail stale syncs: %w", err)
	}
	return res.RowsAffected()
}
