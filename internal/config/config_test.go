package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Port != 8430 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Sync.StaleAfterMinutes != 60 {
		t.Errorf("staleAfterMinutes = %d", cfg.Sync.StaleAfterMinutes)
	}
	if cfg.Skills.DuplicatePolicy != "strict" {
		t.Errorf("duplicatePolicy = %q", cfg.Skills.DuplicatePolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	path := writeConfig(t, `{
		"server": {"port": 9000, "dataDir": "`+dataDir+`", "logLevel": "debug"},
		"sync": {"staleAfterMinutes": 30},
		"workspaces": [
			{"id": "ws1", "name": "Acme", "skills": ["deal_risk"]}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.LogLevel != "debug" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Sync.StaleAfterMinutes != 30 {
		t.Errorf("staleAfterMinutes = %d", cfg.Sync.StaleAfterMinutes)
	}
	// Untouched sections keep defaults.
	if cfg.MQTT.Port != 1883 {
		t.Errorf("mqtt port = %d", cfg.MQTT.Port)
	}
	if ids := cfg.WorkspaceIDs(); len(ids) != 1 || ids[0] != "ws1" {
		t.Errorf("workspaces = %v", ids)
	}
	// Data dir is created.
	if _, err := os.Stat(dataDir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", `{not json`},
		{"zero staleness", `{"sync": {"staleAfterMinutes": 0}}`},
		{"bad policy", `{"skills": {"duplicatePolicy": "maybe"}}`},
		{"duplicate workspace", `{"workspaces": [{"id": "ws1"}, {"id": "ws1"}]}`},
		{"empty workspace id", `{"workspaces": [{"id": ""}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspaces = []WorkspaceDef{{ID: "ws1", Name: "Acme"}}
	cfg.Server.DataDir = filepath.Join(t.TempDir(), "data")

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Workspaces) != 1 || loaded.Workspaces[0].Name != "Acme" {
		t.Errorf("workspaces = %+v", loaded.Workspaces)
	}
}

func TestReloadAppliesHotFields(t *testing.T) {
	cfg := DefaultConfig()

	path := writeConfig(t, `{
		"server": {"port": 9999, "dataDir": "./data", "logLevel": "debug"},
		"sync": {"staleAfterMinutes": 15}
	}`)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	// Hot fields applied.
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Sync.StaleAfterMinutes != 15 {
		t.Errorf("staleAfterMinutes = %d, want 15", cfg.Sync.StaleAfterMinutes)
	}
	// Restart-required fields untouched.
	if cfg.Server.Port != 8430 {
		t.Errorf("port = %d, want 8430 (restart required)", cfg.Server.Port)
	}

	if len(result.Skipped) == 0 {
		t.Error("expected skipped fields for port change")
	}
	if len(result.Applied) == 0 {
		t.Error("expected applied fields")
	}
}

func TestReloadRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	path := writeConfig(t, `{"sync": {"staleAfterMinutes": -1}}`)

	if _, err := cfg.Reload(path); err == nil {
		t.Error("expected error for invalid reload")
	}
	if cfg.Sync.StaleAfterMinutes != 60 {
		t.Error("invalid reload must not mutate config")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := writeConfig(t, `{"a": 1}`)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	changed := make(chan struct{}, 1)
	w := NewWatcher(path, 20*time.Millisecond, logger, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	w.Start()
	defer w.Stop()

	// Give the watcher a tick to record initial state, then modify.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"a": 2, "b": 3}`), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report change")
	}
}
