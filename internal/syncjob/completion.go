package syncjob

import (
	"context"
	"fmt"

	"github.com/cadencehq/cadence/internal/queue"
	"github.com/cadencehq/cadence/internal/trigger"
)

// Notifier receives completed-sync events. Satisfied by trigger.PostSync.
type Notifier interface {
	Dispatch(ctx context.Context, event trigger.SyncEvent) int
}

// Complete settles a sync log from a worker's completion report. Success
// marks the log completed (stamping the watermark, so the next sync for
// the pair runs incrementally) and notifies subscribed skills; a reported
// worker error marks the log failed and skips notification. Either way
// the active lock for the pair is released.
func (c *Coordinator) Complete(ctx context.Context, res queue.Result) error {
	l, err := c.store.GetSyncLog(ctx, res.SyncLogID)
	if err != nil {
		return fmt.Errorf("look up sync log %s: %w", res.SyncLogID, err)
	}

	if res.Error != "" {
		if err := c.store.MarkFailed(ctx, l.ID, []string{res.Error}); err != nil {
			return fmt.Errorf("fail sync log %s: %w", l.ID, err)
		}
		c.logger.Warn("sync failed",
			"sync_log_id", l.ID,
			"workspace", l.WorkspaceID,
			"connector", l.ConnectorType,
			"error", res.Error)
		return nil
	}

	if err := c.store.MarkCompleted(ctx, l.ID); err != nil {
		return fmt.Errorf("complete sync log %s: %w", l.ID, err)
	}
	c.logger.Info("sync completed",
		"sync_log_id", l.ID,
		"workspace", l.WorkspaceID,
		"connector", l.ConnectorType,
		"records", res.RecordCount)

	if c.notifier != nil {
		n := c.notifier.Dispatch(ctx, trigger.SyncEvent{
			WorkspaceID:   l.WorkspaceID,
			ConnectorType: l.ConnectorType,
			SyncLogID:     l.ID,
			Mode:          string(l.Mode),
			RecordCount:   res.RecordCount,
		})
		c.logger.Debug("post-sync skills dispatched", "sync_log_id", l.ID, "count", n)
	}
	return nil
}
