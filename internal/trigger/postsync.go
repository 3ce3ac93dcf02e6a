package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cadencehq/cadence/internal/runtime"
	"github.com/cadencehq/cadence/internal/skills"
)

// Executor runs one skill to completion. Satisfied by *runtime.Runner.
type Executor interface {
	Execute(ctx context.Context, def *skills.Definition, seed runtime.Seed) (*runtime.RunResult, error)
}

// SyncEvent describes a finished connector sync.
type SyncEvent struct {
	WorkspaceID   string
	ConnectorType string
	SyncLogID     string
	Mode          string
	RecordCount   int
}

// PostSync fans a completed sync out to every skill subscribed to the
// post_sync trigger. Dispatch is fire-and-forget: skill failures are
// logged, never propagated back to the sync pipeline, and one skill's
// failure cannot stop the others.
type PostSync struct {
	registry *skills.Registry
	executor Executor
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewPostSync creates a dispatcher over the registry and executor.
func NewPostSync(registry *skills.Registry, executor Executor, logger *slog.Logger) *PostSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostSync{
		registry: registry,
		executor: executor,
		logger:   logger.With("component", "post_sync_trigger"),
	}
}

// Dispatch launches every subscribed skill in its own goroutine and
// returns immediately. The event is delivered as the trigger payload.
func (p *PostSync) Dispatch(ctx context.Context, event SyncEvent) int {
	defs := p.registry.ListByTrigger(skills.TriggerPostSync)
	if len(defs) == 0 {
		return 0
	}

	payload := map[string]any{
		"connector_type": event.ConnectorType,
		"sync_log_id":    event.SyncLogID,
		"mode":           event.Mode,
		"record_count":   event.RecordCount,
	}

	for _, def := range defs {
		p.wg.Add(1)
		go p.run(ctx, def, event.WorkspaceID, payload)
	}

	p.logger.Info("post-sync skills dispatched",
		"workspace", event.WorkspaceID, "connector", event.ConnectorType, "count", len(defs))
	return len(defs)
}

func (p *PostSync) run(ctx context.Context, def *skills.Definition, workspaceID string, payload map[string]any) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("post-sync skill panicked", "skill", def.ID, "panic", fmt.Sprint(r))
		}
	}()

	res, err := p.executor.Execute(ctx, def, runtime.Seed{
		WorkspaceID:    workspaceID,
		TriggerPayload: payload,
	})
	if err != nil {
		p.logger.Error("post-sync skill failed", "skill", def.ID, "workspace", workspaceID, "error", err)
		return
	}
	if res.Failed {
		p.logger.Warn("post-sync skill finished with failed steps", "skill", def.ID, "run", res.RunID)
		return
	}
	p.logger.Info("post-sync skill completed", "skill", def.ID, "run", res.RunID, "duration", res.Duration)
}

// Wait blocks until all in-flight dispatches finish. Used in tests and
// during shutdown.
func (p *PostSync) Wait() {
	p.wg.Wait()
}
