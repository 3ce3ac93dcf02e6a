package agents

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestCreateAndGet(t *testing.T) {
	r := testRegistry(t)

	agent, err := r.Create("ws1", "deal_risk", map[string]any{"threshold_days": 14})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if agent.ID != "ws1/deal_risk" {
		t.Errorf("id = %q", agent.ID)
	}
	if !agent.Enabled {
		t.Error("new agent should be enabled")
	}

	got, err := r.Get("ws1/deal_risk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Settings["threshold_days"] != 14 {
		t.Errorf("settings = %v", got.Settings)
	}

	if _, err := r.Create("ws1", "deal_risk", nil); err == nil {
		t.Error("duplicate create should fail")
	}
}

func TestListByWorkspace(t *testing.T) {
	r := testRegistry(t)
	mustCreate(t, r, "ws1", "deal_risk")
	mustCreate(t, r, "ws1", "pipeline_health")
	mustCreate(t, r, "ws2", "deal_risk")

	if n := len(r.ListByWorkspace("ws1")); n != 2 {
		t.Errorf("ws1 agents = %d, want 2", n)
	}
	if n := len(r.List()); n != 3 {
		t.Errorf("all agents = %d, want 3", n)
	}
}

func TestEnabledForWorkspace(t *testing.T) {
	r := testRegistry(t)
	mustCreate(t, r, "ws1", "deal_risk")
	mustCreate(t, r, "ws1", "pipeline_health")

	if err := r.SetEnabled("ws1/deal_risk", false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	enabled := r.EnabledForWorkspace("ws1")
	if len(enabled) != 1 || enabled[0].SkillID != "pipeline_health" {
		t.Errorf("enabled = %+v", enabled)
	}
}

func TestRecordRun(t *testing.T) {
	r := testRegistry(t)
	mustCreate(t, r, "ws1", "deal_risk")

	if err := r.RecordRun("ws1/deal_risk", 100*time.Millisecond, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.RecordRun("ws1/deal_risk", 300*time.Millisecond, errors.New("step failed")); err != nil {
		t.Fatalf("record: %v", err)
	}

	agent, _ := r.Get("ws1/deal_risk")
	snap := agent.Snapshot()
	if snap.Stats.TotalRuns != 2 || snap.Stats.SuccessfulRuns != 1 || snap.Stats.FailedRuns != 1 {
		t.Errorf("stats = %+v", snap.Stats)
	}
	if snap.Stats.AvgDurationMs != 200 {
		t.Errorf("avg duration = %v, want 200", snap.Stats.AvgDurationMs)
	}
	if snap.Stats.LastError != "step failed" {
		t.Errorf("last error = %q", snap.Stats.LastError)
	}
	if snap.LastRunAt.IsZero() {
		t.Error("last run not stamped")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r1, err := NewRegistry(dir, testLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	mustCreate(t, r1, "ws1", "deal_risk")
	if err := r1.SetEnabled("ws1/deal_risk", false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	r2, err := NewRegistry(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	if err := r2.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	agent, err := r2.Get("ws1/deal_risk")
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if agent.Enabled {
		t.Error("enabled flag lost across reload")
	}
}

func TestDelete(t *testing.T) {
	r := testRegistry(t)
	mustCreate(t, r, "ws1", "deal_risk")

	if err := r.Delete("ws1/deal_risk"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get("ws1/deal_risk"); err == nil {
		t.Error("get after delete should fail")
	}
	if err := r.Delete("ws1/deal_risk"); err == nil {
		t.Error("double delete should fail")
	}
}

func mustCreate(t *testing.T, r *Registry, workspaceID, skillID string) {
	t.Helper()
	if _, err := r.Create(workspaceID, skillID, nil); err != nil {
		t.Fatalf("create %s/%s: %v", workspaceID, skillID, err)
	}
}
