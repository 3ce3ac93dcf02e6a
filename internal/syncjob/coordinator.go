package syncjob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/queue"
	"github.com/cadencehq/cadence/internal/store"
)

// DefaultStaleAfter is how long a running sync may go without completing
// before the next submission declares it dead.
const DefaultStaleAfter = time.Hour

// ConflictError signals that a sync for the pair is already pending or
// running. Callers surface it as a 409-equivalent; it is not retried here.
type ConflictError struct {
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync already in progress (lock %s)", e.ExistingID)
}

// Request asks for one connector sync.
type Request struct {
	WorkspaceID   string
	ConnectorType string
	SyncType      store.SyncType
	Mode          store.SyncMode // empty = auto-detect from watermark
	Priority      int
}

// Submission is the immediate acknowledgment of an accepted sync request.
// The sync itself runs asynchronously.
type Submission struct {
	SyncLogID string
	JobID     string
	Mode      store.SyncMode
	ReapedIDs []string // stale locks failed as a side effect, informational
}

// Coordinator serializes sync attempts per (workspace, connector) pair and
// resolves sync mode. Persisted sync_logs rows are the source of truth for
// mutual exclusion; the storage layer's unique active-lock index closes
// the race between concurrent submissions.
type Coordinator struct {
	store      *store.Store
	queue      queue.Queue
	notifier   Notifier
	staleAfter time.Duration
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStaleAfter overrides the staleness window used by the lock reaper.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithNotifier wires the collaborator that fans completed syncs out to
// subscribed skills.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// NewCoordinator creates a coordinator over the given store and job queue.
func NewCoordinator(st *store.Store, q queue.Queue, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:      st,
		queue:      q,
		staleAfter: DefaultStaleAfter,
		logger:     logger.With("component", "sync_coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit runs the sync admission protocol in one transaction: reap stale
// locks, reject duplicates, resolve mode, insert the pending lock. On
// success the job is enqueued and identifiers returned without waiting for
// the sync to run.
func (c *Coordinator) Submit(ctx context.Context, req Request) (*Submission, error) {
	if req.WorkspaceID == "" || req.ConnectorType == "" {
		return nil, fmt.Errorf("workspace and connector required")
	}
	if req.SyncType == "" {
		req.SyncType = store.SyncManual
	}

	logger := c.logger.With("workspace", req.WorkspaceID, "connector", req.ConnectorType)
	now := time.Now()
	sub := &Submission{SyncLogID: uuid.New().String()}

	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		// 1. Reap stale locks before any duplicate check, so one crashed
		// worker can never wedge future syncs.
		reaped, err := c.store.ReapStale(ctx, tx, req.WorkspaceID, req.ConnectorType, now.Add(-c.staleAfter))
		if err != nil {
			return fmt.Errorf("reap stale locks: %w", err)
		}
		sub.ReapedIDs = reaped
		for _, id := range reaped {
			logger.Warn("reaped stale sync lock", "lock", id, "stale_after", c.staleAfter)
		}

		// 2. Refuse while an active lock exists.
		existing, err := c.store.ActiveLock(ctx, tx, req.WorkspaceID, req.ConnectorType)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check active lock: %w", err)
		}
		if existing != nil {
			return &ConflictError{ExistingID: existing.ID}
		}

		// 3. Resolve mode: explicit override wins, otherwise a watermark
		// makes the sync incremental and a fresh connector gets a full pull.
		mode, err := c.resolveMode(ctx, tx, req)
		if err != nil {
			return err
		}
		sub.Mode = mode

		// 4. Insert the pending lock row.
		return c.store.InsertSyncLog(ctx, tx, &store.SyncLog{
			ID:            sub.SyncLogID,
			WorkspaceID:   req.WorkspaceID,
			ConnectorType: req.ConnectorType,
			SyncType:      req.SyncType,
			Status:        store.StatusPending,
			Mode:          mode,
			StartedAt:     now,
		})
	})
	if err != nil {
		// Two submissions can pass the ActiveLock check in separate
		// transactions; the partial unique index breaks the tie.
		if isUniqueViolation(err) {
			winner, lerr := c.lookupActive(ctx, req)
			if lerr == nil {
				return nil, &ConflictError{ExistingID: winner}
			}
			return nil, &ConflictError{}
		}
		return nil, err
	}

	jobID, err := c.queue.CreateJob(ctx, queue.Job{
		WorkspaceID: req.WorkspaceID,
		JobType:     "connector_sync",
		Priority:    req.Priority,
		Payload: map[string]any{
			"sync_log_id":    sub.SyncLogID,
			"connector_type": req.ConnectorType,
			"mode":           string(sub.Mode),
		},
	})
	if err != nil {
		// Release the lock so the pair is not wedged until the reaper runs
		if ferr := c.store.MarkFailed(ctx, sub.SyncLogID, []string{fmt.Sprintf("enqueue failed: %v", err)}); ferr != nil {
			logger.Error("failed to release lock after enqueue error", "lock", sub.SyncLogID, "error", ferr)
		}
		return nil, fmt.Errorf("enqueue sync job: %w", err)
	}
	sub.JobID = jobID

	logger.Info("sync submitted", "lock", sub.SyncLogID, "job", jobID, "mode", sub.Mode)
	return sub, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (c *Coordinator) lookupActive(ctx context.Context, req Request) (string, error) {
	var id string
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := c.store.ActiveLock(ctx, tx, req.WorkspaceID, req.ConnectorType)
		if err != nil {
			return err
		}
		id = existing.ID
		return nil
	})
	return id, err
}

// resolveMode honors an explicit mode request, else auto-detects from the
// watermark.
func (c *Coordinator) resolveMode(ctx context.Context, tx *sql.Tx, req Request) (store.SyncMode, error) {
	switch req.Mode {
	case store.ModeFull, store.ModeIncremental:
		return req.Mode, nil
	case "":
	default:
		return "", fmt.Errorf("unknown sync mode %q", req.Mode)
	}

	_, err := c.store.Watermark(ctx, tx, req.WorkspaceID, req.ConnectorType)
	if errors.Is(err, store.ErrNotFound) {
		return store.ModeFull, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve mode: %w", err)
	}
	return store.ModeIncremental, nil
}
