package trigger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/cadencehq/cadence/internal/runtime"
	"github.com/cadencehq/cadence/internal/skills"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func postSyncSkill(id string) *skills.Definition {
	return &skills.Definition{
		ID:   id,
		Name: id,
		Tier: skills.TierCompute,
		Schedule: &skills.Schedule{
			Triggers: []skills.TriggerKind{skills.TriggerPostSync},
		},
		Steps: []skills.Step{
			{ID: "s1", Tier: skills.TierCompute, ComputeFn: "noop", OutputKey: "out"},
		},
	}
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	payloads []map[string]any
	failOn   string
	panicOn  string
}

func (e *recordingExecutor) Execute(ctx context.Context, def *skills.Definition, seed runtime.Seed) (*runtime.RunResult, error) {
	e.mu.Lock()
	e.executed = append(e.executed, def.ID)
	e.payloads = append(e.payloads, seed.TriggerPayload)
	e.mu.Unlock()

	if def.ID == e.panicOn {
		panic("executor blew up")
	}
	if def.ID == e.failOn {
		return nil, errors.New("skill exploded")
	}
	return &runtime.RunResult{RunID: "run-" + def.ID, SkillID: def.ID}, nil
}

func (e *recordingExecutor) ids() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.executed))
	copy(out, e.executed)
	return out
}

func registryWith(t *testing.T, defs ...*skills.Definition) *skills.Registry {
	t.Helper()
	r := skills.NewRegistry(skills.PolicyStrict, testLogger())
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.ID, err)
		}
	}
	return r
}

func TestDispatchRunsSubscribedSkills(t *testing.T) {
	onDemand := &skills.Definition{
		ID:    "manual_only",
		Name:  "manual_only",
		Tier:  skills.TierCompute,
		Steps: []skills.Step{{ID: "s1", Tier: skills.TierCompute, ComputeFn: "noop", OutputKey: "out"}},
	}
	reg := registryWith(t, postSyncSkill("deal_risk"), postSyncSkill("pipeline_health"), onDemand)

	exec := &recordingExecutor{}
	p := NewPostSync(reg, exec, testLogger())

	n := p.Dispatch(context.Background(), SyncEvent{
		WorkspaceID:   "ws1",
		ConnectorType: "hubspot",
		SyncLogID:     "log-1",
		Mode:          "incremental",
		RecordCount:   42,
	})
	p.Wait()

	if n != 2 {
		t.Errorf("dispatched = %d, want 2", n)
	}
	ids := exec.ids()
	if len(ids) != 2 {
		t.Fatalf("executed = %v, want 2 skills", ids)
	}
	for _, id := range ids {
		if id == "manual_only" {
			t.Error("unsubscribed skill was executed")
		}
	}
	if got := exec.payloads[0]["connector_type"]; got != "hubspot" {
		t.Errorf("payload connector_type = %v", got)
	}
	if got := exec.payloads[0]["record_count"]; got != 42 {
		t.Errorf("payload record_count = %v", got)
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	reg := registryWith(t, postSyncSkill("a"), postSyncSkill("b"), postSyncSkill("c"))
	exec := &recordingExecutor{failOn: "b"}
	p := NewPostSync(reg, exec, testLogger())

	p.Dispatch(context.Background(), SyncEvent{WorkspaceID: "ws1", ConnectorType: "hubspot"})
	p.Wait()

	if ids := exec.ids(); len(ids) != 3 {
		t.Errorf("executed = %v, want all 3 despite failure", ids)
	}
}

func TestDispatchContainsPanics(t *testing.T) {
	reg := registryWith(t, postSyncSkill("a"), postSyncSkill("b"))
	exec := &recordingExecutor{panicOn: "a"}
	p := NewPostSync(reg, exec, testLogger())

	// Must not panic the caller.
	p.Dispatch(context.Background(), SyncEvent{WorkspaceID: "ws1", ConnectorType: "hubspot"})
	p.Wait()

	if ids := exec.ids(); len(ids) != 2 {
		t.Errorf("executed = %v, want both", ids)
	}
}

func TestDispatchNoSubscribers(t *testing.T) {
	reg := registryWith(t)
	exec := &recordingExecutor{}
	p := NewPostSync(reg, exec, testLogger())

	if n := p.Dispatch(context.Background(), SyncEvent{WorkspaceID: "ws1"}); n != 0 {
		t.Errorf("dispatched = %d, want 0", n)
	}
	p.Wait()
	if ids := exec.ids(); len(ids) != 0 {
		t.Errorf("executed = %v, want none", ids)
	}
}
