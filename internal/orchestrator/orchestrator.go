package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/internal/agents"
	"github.com/cadencehq/cadence/internal/runtime"
	"github.com/cadencehq/cadence/internal/skills"
	"github.com/cadencehq/cadence/internal/store"
)

// ErrAgentDisabled signals that the workspace has explicitly turned the
// skill off. Callers treat it as a clean no-op, not a failure.
var ErrAgentDisabled = errors.New("agent disabled for workspace")

// Orchestrator runs skills on behalf of workspaces: it resolves the
// definition, enforces the workspace's agent enablement, seeds the run
// context with workspace settings, and folds outcomes back into agent
// stats, run history, and evidence storage.
type Orchestrator struct {
	skills  *skills.Registry
	agents  *agents.Registry
	history *agents.HistoryStore
	runner  *runtime.Runner
	store   *store.Store
	logger  *slog.Logger
}

// New creates an orchestrator. store may be nil when evidence
// persistence is not wanted (tests, dry runs).
func New(sk *skills.Registry, ag *agents.Registry, hist *agents.HistoryStore, runner *runtime.Runner, st *store.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		skills:  sk,
		agents:  ag,
		history: hist,
		runner:  runner,
		store:   st,
		logger:  logger.With("component", "orchestrator"),
	}
}

// RunSkill executes one skill for a workspace and records the outcome.
func (o *Orchestrator) RunSkill(ctx context.Context, skillID, workspaceID string, payload map[string]any) (*runtime.RunResult, error) {
	def, ok := o.skills.Get(skillID)
	if !ok {
		return nil, fmt.Errorf("unknown skill %q", skillID)
	}

	seed := runtime.Seed{
		WorkspaceID:    workspaceID,
		TriggerPayload: payload,
	}

	// Workspace settings ride along as business context. An agent row is
	// optional: a skill without one runs with defaults.
	agentID := agents.AgentID(workspaceID, skillID)
	agent, err := o.agents.Get(agentID)
	if err == nil {
		snap := agent.Snapshot()
		if !snap.Enabled {
			o.logger.Debug("skill disabled for workspace", "skill", skillID, "workspace", workspaceID)
			return nil, ErrAgentDisabled
		}
		seed.BusinessContext = snap.Settings
	}

	res, runErr := o.runner.Execute(ctx, def, seed)
	o.record(ctx, agentID, def.ID, workspaceID, res, runErr)
	return res, runErr
}

// Execute satisfies the post-sync trigger's executor contract.
func (o *Orchestrator) Execute(ctx context.Context, def *skills.Definition, seed runtime.Seed) (*runtime.RunResult, error) {
	return o.RunSkill(ctx, def.ID, seed.WorkspaceID, seed.TriggerPayload)
}

// ExecuteSkill satisfies the scheduler's executor contract.
func (o *Orchestrator) ExecuteSkill(ctx context.Context, skillID, workspaceID string, payload map[string]any) error {
	res, err := o.RunSkill(ctx, skillID, workspaceID, payload)
	if errors.Is(err, ErrAgentDisabled) {
		return nil
	}
	if err != nil {
		return err
	}
	if res.Failed {
		return fmt.Errorf("skill %s finished with failed steps", skillID)
	}
	return nil
}

// record folds a finished run into agent stats, history, and evidence
// storage. Bookkeeping failures are logged, never propagated.
func (o *Orchestrator) record(ctx context.Context, agentID, skillID, workspaceID string, res *runtime.RunResult, runErr error) {
	var duration time.Duration
	if res != nil {
		duration = res.Duration
	}

	outcome := runErr
	if outcome == nil && res != nil && res.Failed {
		outcome = fmt.Errorf("run had failed steps")
	}

	if _, err := o.agents.Get(agentID); err == nil {
		if err := o.agents.RecordRun(agentID, duration, outcome); err != nil {
			o.logger.Error("failed to record run stats", "agent", agentID, "error", err)
		}
	}

	if res == nil {
		return
	}

	if o.history != nil {
		rec := agents.RunRecord{
			RunID:     res.RunID,
			StartedAt: time.Now().Add(-duration),
			Duration:  duration,
			Failed:    res.Failed || runErr != nil,
		}
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		if res.Evidence != nil {
			rec.ClaimCount = len(res.Evidence.Claims)
			if sev := maxClaimSeverity(res); sev != "" {
				rec.MaxSeverity = sev
			}
		}
		o.history.Get(agentID).Add(rec)
	}

	if o.store != nil && res.Evidence != nil {
		if err := o.store.SaveEvidence(ctx, res.RunID, skillID, workspaceID, res.Evidence); err != nil {
			o.logger.Error("failed to persist evidence", "run", res.RunID, "error", err)
		}
	}
}

func maxClaimSeverity(res *runtime.RunResult) string {
	var top string
	var topRank int
	for _, c := range res.Evidence.Claims {
		if r := c.Severity.Rank(); r > topRank || top == "" {
			top = string(c.Severity)
			topRank = r
		}
	}
	return top
}
