package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cadencehq/cadence/internal/agents"
	"github.com/cadencehq/cadence/internal/evidence"
	"github.com/cadencehq/cadence/internal/runtime"
	"github.com/cadencehq/cadence/internal/skills"
	"github.com/cadencehq/cadence/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

type fixture struct {
	orch   *Orchestrator
	agents *agents.Registry
	hist   *agents.HistoryStore
	store  *store.Store
}

func newFixture(t *testing.T, failStep bool) *fixture {
	t.Helper()
	logger := testLogger()

	ft := runtime.NewFuncTable()
	if err := ft.Register("probe", func(ctx context.Context, args map[string]any, rc *runtime.RunContext) (any, error) {
		if failStep {
			return nil, errors.New("probe exploded")
		}
		return map[string]any{"ok": true, "workspace": rc.WorkspaceID}, nil
	}); err != nil {
		t.Fatalf("register fn: %v", err)
	}

	skillReg := skills.NewRegistry(skills.PolicyStrict, logger)
	def := &skills.Definition{
		ID:   "deal_risk",
		Name: "Deal Risk",
		Tier: skills.TierCompute,
		Steps: []skills.Step{
			{ID: "probe", Tier: skills.TierCompute, ComputeFn: "probe", OutputKey: "probe_out"},
		},
	}
	if err := skillReg.Register(def); err != nil {
		t.Fatalf("register skill: %v", err)
	}

	agentReg, err := agents.NewRegistry(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("agent registry: %v", err)
	}
	hist, err := agents.NewHistoryStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "cadence.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runner := runtime.NewRunner(ft, logger)
	runner.RegisterEvidence("deal_risk", func(ctx context.Context, outputs map[string]any, rc *runtime.RunContext) (*evidence.Bundle, error) {
		b := evidence.NewBuilder(logger)
		if err := b.AddRecord(evidence.Record{
			EntityType: "deal", EntityID: "d1",
			Fields:   map[string]any{"probe": outputs["probe_out"] != nil},
			Severity: evidence.SeverityCritical,
		}); err != nil {
			return nil, err
		}
		if err := b.Claim("deal at risk", []string{"d1"}, "risk", nil, ""); err != nil {
			return nil, err
		}
		return b.Build(), nil
	})

	return &fixture{
		orch:   New(skillReg, agentReg, hist, runner, st, logger),
		agents: agentReg,
		hist:   hist,
		store:  st,
	}
}

func TestRunSkillRecordsEverything(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.agents.Create("ws1", "deal_risk", map[string]any{"region": "emea"}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	res, err := f.orch.RunSkill(context.Background(), "deal_risk", "ws1", map[string]any{"connector_type": "hubspot"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Failed {
		t.Fatalf("run failed: %+v", res.Steps)
	}

	// Agent stats updated.
	agent, _ := f.agents.Get("ws1/deal_risk")
	if agent.Snapshot().Stats.SuccessfulRuns != 1 {
		t.Errorf("stats = %+v", agent.Snapshot().Stats)
	}

	// History recorded with evidence summary.
	recent := f.hist.Get("ws1/deal_risk").Recent(1)
	if len(recent) != 1 || recent[0].ClaimCount != 1 || recent[0].MaxSeverity != "critical" {
		t.Errorf("history = %+v", recent)
	}

	// Evidence persisted.
	bundle, err := f.store.EvidenceForRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("load evidence: %v", err)
	}
	if len(bundle.Claims) != 1 {
		t.Errorf("persisted claims = %d", len(bundle.Claims))
	}
}

func TestRunSkillWithoutAgentRow(t *testing.T) {
	f := newFixture(t, false)

	// No agent created: the skill still runs with defaults.
	res, err := f.orch.RunSkill(context.Background(), "deal_risk", "ws1", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Failed {
		t.Errorf("run failed: %+v", res.Steps)
	}
}

func TestRunSkillDisabledAgent(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.agents.Create("ws1", "deal_risk", nil); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := f.agents.SetEnabled("ws1/deal_risk", false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if _, err := f.orch.RunSkill(context.Background(), "deal_risk", "ws1", nil); !errors.Is(err, ErrAgentDisabled) {
		t.Errorf("err = %v, want ErrAgentDisabled", err)
	}

	// Scheduler path treats disabled as a clean no-op.
	if err := f.orch.ExecuteSkill(context.Background(), "deal_risk", "ws1", nil); err != nil {
		t.Errorf("ExecuteSkill on disabled agent = %v, want nil", err)
	}
}

func TestRunSkillUnknown(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.orch.RunSkill(context.Background(), "nope", "ws1", nil); err == nil {
		t.Error("expected error for unknown skill")
	}
}

func TestFailedRunCountsAsFailure(t *testing.T) {
	f := newFixture(t, true)
	if _, err := f.agents.Create("ws1", "deal_risk", nil); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	res, err := f.orch.RunSkill(context.Background(), "deal_risk", "ws1", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Failed {
		t.Fatal("expected failed run")
	}

	agent, _ := f.agents.Get("ws1/deal_risk")
	if agent.Snapshot().Stats.FailedRuns != 1 {
		t.Errorf("stats = %+v", agent.Snapshot().Stats)
	}

	if err := f.orch.ExecuteSkill(context.Background(), "deal_risk", "ws1", nil); err == nil {
		t.Error("scheduler path should surface failed runs")
	}
}
