package agents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Registry manages skill agents and their state. An agent is one skill
// activated for one workspace, carrying per-workspace settings and run
// statistics. Skill definitions stay immutable; all mutable state lives
// here.
type Registry struct {
	agents  map[string]*Agent
	dataDir string
	logger  *slog.Logger
	mu      sync.RWMutex
}

// Agent represents a skill activated for a workspace
type Agent struct {
	ID          string         `json:"id"` // "<workspace>/<skill>"
	WorkspaceID string         `json:"workspace_id"`
	SkillID     string         `json:"skill_id"`
	Enabled     bool           `json:"enabled"`
	Settings    map[string]any `json:"settings,omitempty"` // workspace overrides merged into run context
	CreatedAt   time.Time      `json:"created_at"`
	LastRunAt   time.Time      `json:"last_run_at,omitempty"`
	Stats       Stats          `json:"stats"`
	mu          sync.RWMutex
}

// Stats tracks agent run outcomes
type Stats struct {
	TotalRuns      int64   `json:"total_runs"`
	SuccessfulRuns int64   `json:"successful_runs"`
	FailedRuns     int64   `json:"failed_runs"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	LastError      string  `json:"last_error,omitempty"`
}

// AgentID builds the canonical agent id for a pair.
func AgentID(workspaceID, skillID string) string {
	return workspaceID + "/" + skillID
}

// NewRegistry creates a new agent registry
func NewRegistry(dataDir string, logger *slog.Logger) (*Registry, error) {
	agentsDir := filepath.Join(dataDir, "agents")
	if err := os.MkdirAll(agentsDir, 0750); err != nil {
		return nil, fmt.Errorf("create agents dir: %w", err)
	}

	return &Registry{
		agents:  make(map[string]*Agent),
		dataDir: agentsDir,
		logger:  logger.With("component", "agents"),
	}, nil
}

// Create activates a skill for a workspace
func (r *Registry) Create(workspaceID, skillID string, settings map[string]any) (*Agent, error) {
	if workspaceID == "" || skillID == "" {
		return nil, fmt.Errorf("workspace and skill required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := AgentID(workspaceID, skillID)
	if _, exists := r.agents[id]; exists {
		return nil, fmt.Errorf("agent already exists: %s", id)
	}

	agent := &Agent{
		ID:          id,
		WorkspaceID: workspaceID,
		SkillID:     skillID,
		Enabled:     true,
		Settings:    settings,
		CreatedAt:   time.Now(),
	}

	r.agents[id] = agent

	// Persist to disk
	if err := r.save(agent); err != nil {
		r.logger.Error("failed to persist agent", "id", id, "error", err)
		// Don't fail creation if save fails
	}

	r.logger.Info("agent created", "id", id)
	return agent, nil
}

// Get retrieves an agent by ID
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent not found: %s", id)
	}

	return agent, nil
}

// List returns all agents
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	return agents
}

// ListByWorkspace returns all agents for a workspace
func (r *Registry) ListByWorkspace(workspaceID string) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var agents []*Agent
	for _, a := range r.agents {
		if a.WorkspaceID == workspaceID {
			agents = append(agents, a)
		}
	}
	return agents
}

// EnabledForWorkspace returns the enabled agents for a workspace. The
// trigger and scheduler paths consult this before running a skill.
func (r *Registry) EnabledForWorkspace(workspaceID string) []*Agent {
	var agents []*Agent
	for _, a := range r.ListByWorkspace(workspaceID) {
		a.mu.RLock()
		enabled := a.Enabled
		a.mu.RUnlock()
		if enabled {
			agents = append(agents, a)
		}
	}
	return agents
}

// SetEnabled flips an agent's enabled flag
func (r *Registry) SetEnabled(id string, enabled bool) error {
	agent, err := r.Get(id)
	if err != nil {
		return err
	}

	agent.mu.Lock()
	agent.Enabled = enabled
	agent.mu.Unlock()

	if err := r.save(agent); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}

	r.logger.Info("agent toggled", "id", id, "enabled", enabled)
	return nil
}

// UpdateSettings replaces an agent's workspace settings
func (r *Registry) UpdateSettings(id string, settings map[string]any) error {
	agent, err := r.Get(id)
	if err != nil {
		return err
	}

	agent.mu.Lock()
	agent.Settings = settings
	agent.mu.Unlock()

	if err := r.save(agent); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}

	r.logger.Info("agent settings updated", "id", id)
	return nil
}

// Delete removes an agent
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("agent not found: %s", id)
	}

	delete(r.agents, id)

	// Delete from disk
	path := r.agentPath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Error("failed to delete agent file", "id", id, "error", err)
	}

	r.logger.Info("agent deleted", "id", id)
	return nil
}

// RecordRun folds one skill run's outcome into the agent's stats
func (r *Registry) RecordRun(id string, duration time.Duration, runErr error) error {
	agent, err := r.Get(id)
	if err != nil {
		return err
	}

	agent.mu.Lock()
	defer agent.mu.Unlock()

	agent.LastRunAt = time.Now()
	agent.Stats.TotalRuns++
	if runErr != nil {
		agent.Stats.FailedRuns++
		agent.Stats.LastError = runErr.Error()
	} else {
		agent.Stats.SuccessfulRuns++
		agent.Stats.LastError = ""
	}

	// Update running average duration
	n := float64(agent.Stats.TotalRuns)
	ms := float64(duration.Milliseconds())
	agent.Stats.AvgDurationMs = agent.Stats.AvgDurationMs*(n-1)/n + ms/n

	return nil
}

// Load restores agents from disk
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No agents yet
		}
		return fmt.Errorf("read agents dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(r.dataDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Error("failed to read agent file", "path", path, "error", err)
			continue
		}

		var agent Agent
		if err := json.Unmarshal(data, &agent); err != nil {
			r.logger.Error("failed to parse agent file", "path", path, "error", err)
			continue
		}

		r.mu.Lock()
		r.agents[agent.ID] = &agent
		r.mu.Unlock()

		r.logger.Info("agent loaded", "id", agent.ID)
	}

	return nil
}

// SaveAll persists all agents to disk
func (r *Registry) SaveAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, agent := range r.agents {
		if err := r.save(agent); err != nil {
			r.logger.Error("failed to save agent", "id", agent.ID, "error", err)
		}
	}

	return nil
}

// save writes an agent to disk
func (r *Registry) save(agent *Agent) error {
	agent.mu.RLock()
	defer agent.mu.RUnlock()

	data, err := json.MarshalIndent(agent, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}

	path := r.agentPath(agent.ID)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write agent file: %w", err)
	}

	return nil
}

// agentPath returns the file path for an agent. The workspace/skill
// separator is flattened so ids stay filesystem-safe.
func (r *Registry) agentPath(id string) string {
	return filepath.Join(r.dataDir, strings.ReplaceAll(id, "/", "--")+".json")
}

// Snapshot returns a safe copy of an agent (no mutex)
func (a *Agent) Snapshot() Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return Agent{
		ID:          a.ID,
		WorkspaceID: a.WorkspaceID,
		SkillID:     a.SkillID,
		Enabled:     a.Enabled,
		Settings:    a.Settings,
		CreatedAt:   a.CreatedAt,
		LastRunAt:   a.LastRunAt,
		Stats:       a.Stats,
	}
}
