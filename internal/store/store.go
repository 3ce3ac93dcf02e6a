package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cadencehq/cadence/internal/evidence"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the sqlite-backed persistence layer for sync logs, watermarks,
// and evidence bundles. Persisted rows are the sole source of truth for
// sync mutual exclusion.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// migrate creates tables on first run.
func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on nil error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ReapStale transitions running sync logs for the pair whose started_at is
// older than before into failed, appending a timeout error. Returns the
// reaped ids.
func (s *Store) ReapStale(ctx context.Context, tx *sql.Tx, workspaceID, connectorType string, before time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, errors FROM sync_logs
		 WHERE workspace_id = ? AND connector_type = ? AND status = 'running' AND started_at < ?`,
		workspaceID, connectorType, before.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale locks: %w", err)
	}

	type stale struct {
		id   string
		errs []string
	}
	var found []stale
	for rows.Next() {
		var st stale
		var errsJSON sql.NullString
		if err := rows.Scan(&st.id, &errsJSON); err != nil {
			rows.Close()
			return nil, err
		}
		if errsJSON.Valid && errsJSON.String != "" {
			_ = json.Unmarshal([]byte(errsJSON.String), &st.errs)
		}
		found = append(found, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now()
	var reaped []string
	for _, st := range found {
		errs := append(st.errs, "sync timed out: worker exceeded staleness window")
		errsJSON, _ := json.Marshal(errs)
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_logs SET status = 'failed', completed_at = ?, errors = ? WHERE id = ?`,
			now.Unix(), string(errsJSON), st.id,
		); err != nil {
			return nil, fmt.Errorf("reap lock %s: %w", st.id, err)
		}
		reaped = append(reaped, st.id)
	}
	return reaped, nil
}

// ActiveLock returns the pending or running sync log for the pair, or
// ErrNotFound when the pair is free.
func (s *Store) ActiveLock(ctx context.Context, tx *sql.Tx, workspaceID, connectorType string) (*SyncLog, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, workspace_id, connector_type, sync_type, status, mode, started_at, completed_at, errors
		 FROM sync_logs
		 WHERE workspace_id = ? AND connector_type = ? AND status IN ('pending', 'running')
		 LIMIT 1`,
		workspaceID, connectorType,
	)
	return scanSyncLog(row)
}

// InsertSyncLog persists a new sync log row. The partial unique index
// rejects a second active row for the same pair.
func (s *Store) InsertSyncLog(ctx context.Context, tx *sql.Tx, l *SyncLog) error {
	errsJSON, err := json.Marshal(l.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	var completedAt any
	if l.CompletedAt != nil {
		completedAt = l.CompletedAt.Unix()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_logs (id, workspace_id, connector_type, sync_type, status, mode, started_at, completed_at, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.WorkspaceID, l.ConnectorType, string(l.SyncType), string(l.Status), string(l.Mode),
		l.StartedAt.Unix(), completedAt, string(errsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

// GetSyncLog fetches one sync log by id.
func (s *Store) GetSyncLog(ctx context.Context, id string) (*SyncLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, connector_type, sync_type, status, mode, started_at, completed_at, errors
		 FROM sync_logs WHERE id = ?`,
		id,
	)
	return scanSyncLog(row)
}

// ListSyncLogs returns sync logs for a pair, newest first.
func (s *Store) ListSyncLogs(ctx context.Context, workspaceID, connectorType string, limit int) ([]*SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, connector_type, sync_type, status, mode, started_at, completed_at, errors
		 FROM sync_logs
		 WHERE workspace_id = ? AND connector_type = ?
		 ORDER BY started_at DESC LIMIT ?`,
		workspaceID, connectorType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// MarkRunning transitions a pending sync log to running.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusRunning, nil)
}

// MarkCompleted transitions a sync log to completed and stamps the
// watermark for its pair.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	l, err := s.GetSyncLog(ctx, id)
	if err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_logs SET status = 'completed', completed_at = ? WHERE id = ?`,
			now.Unix(), id,
		); err != nil {
			return fmt.Errorf("complete sync log: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO watermarks (workspace_id, connector_type, last_sync_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT(workspace_id, connector_type) DO UPDATE SET
			   last_sync_at = excluded.last_sync_at`,
			l.WorkspaceID, l.ConnectorType, now.Unix(),
		); err != nil {
			return fmt.Errorf("stamp watermark: %w", err)
		}
		return nil
	})
}

// MarkFailed transitions a sync log to failed with the given errors.
func (s *Store) MarkFailed(ctx context.Context, id string, errs []string) error {
	return s.transition(ctx, id, StatusFailed, errs)
}

func (s *Store) transition(ctx context.Context, id string, status SyncStatus, errs []string) error {
	var completedAt any
	if status == StatusCompleted || status == StatusFailed {
		completedAt = time.Now().Unix()
	}
	errsJSON, _ := json.Marshal(errs)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_logs SET status = ?, completed_at = COALESCE(?, completed_at), errors = ? WHERE id = ?`,
		string(status), completedAt, string(errsJSON), id,
	)
	if err != nil {
		return fmt.Errorf("transition sync log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Watermark returns the last sync time for a pair, or ErrNotFound when the
// connector has never completed a sync.
func (s *Store) Watermark(ctx context.Context, tx *sql.Tx, workspaceID, connectorType string) (time.Time, error) {
	var q interface {
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	} = s.db
	if tx != nil {
		q = tx
	}

	var unix int64
	err := q.QueryRowContext(ctx,
		`SELECT last_sync_at FROM watermarks WHERE workspace_id = ? AND connector_type = ?`,
		workspaceID, connectorType,
	).Scan(&unix)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query watermark: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// SetWatermark upserts the last sync time for a pair.
func (s *Store) SetWatermark(ctx context.Context, workspaceID, connectorType string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (workspace_id, connector_type, last_sync_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(workspace_id, connector_type) DO UPDATE SET
		   last_sync_at = excluded.last_sync_at`,
		workspaceID, connectorType, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// SaveEvidence persists a frozen evidence bundle for a skill run.
func (s *Store) SaveEvidence(ctx context.Context, runID, skillID, workspaceID string, bundle *evidence.Bundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evidence_bundles (id, run_id, skill_id, workspace_id, bundle, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, skillID, workspaceID, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

// EvidenceForRun loads the bundle stored for a run id.
func (s *Store) EvidenceForRun(ctx context.Context, runID string) (*evidence.Bundle, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT bundle FROM evidence_bundles WHERE run_id = ?`, runID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}

	var bundle evidence.Bundle
	if err := json.Unmarshal([]byte(data), &bundle); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	return &bundle, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanSyncLog.
type scanner interface {
	Scan(dest ...any) error
}

func scanSyncLog(row scanner) (*SyncLog, error) {
	var l SyncLog
	var startedAt int64
	var completedAt sql.NullInt64
	var errsJSON sql.NullString

	err := row.Scan(&l.ID, &l.WorkspaceID, &l.ConnectorType, &l.SyncType, &l.Status, &l.Mode,
		&startedAt, &completedAt, &errsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sync log: %w", err)
	}

	l.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		l.CompletedAt = &t
	}
	if errsJSON.Valid && errsJSON.String != "" {
		_ = json.Unmarshal([]byte(errsJSON.String), &l.Errors)
	}
	return &l, nil
}
