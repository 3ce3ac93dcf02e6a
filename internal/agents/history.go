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

const (
	// defaultMaxRuns is the maximum number of run records retained per
	// agent before compaction. Keeps the per-agent history file bounded.
	defaultMaxRuns = 100

	// headKeepRuns is the number of earliest records preserved during
	// compaction. The first runs establish the agent's baseline behavior.
	headKeepRuns = 5
)

// HistoryStore manages per-agent run history with bounded growth.
type HistoryStore struct {
	dataDir string
	logger  *slog.Logger
	mu      sync.RWMutex
	cache   map[string]*RunHistory
}

// RunRecord summarizes one finished skill run.
type RunRecord struct {
	RunID       string        `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Failed      bool          `json:"failed"`
	ClaimCount  int           `json:"claim_count"`
	MaxSeverity string        `json:"max_severity,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// RunHistory stores run records for an agent with bounded growth.
type RunHistory struct {
	AgentID         string      `json:"agent_id"`
	Runs            []RunRecord `json:"runs"`
	MaxRuns         int         `json:"max_runs"`
	CompactionCount int         `json:"compaction_count"`
	LastAccessed    time.Time   `json:"last_accessed"`
	mu              sync.RWMutex
}

// NewHistoryStore creates a new history store.
func NewHistoryStore(dataDir string, logger *slog.Logger) (*HistoryStore, error) {
	historyDir := filepath.Join(dataDir, "history")
	if err := os.MkdirAll(historyDir, 0750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	return &HistoryStore{
		dataDir: historyDir,
		logger:  logger.With("component", "history"),
		cache:   make(map[string]*RunHistory),
	}, nil
}

// Get retrieves or creates run history for an agent.
func (h *HistoryStore) Get(agentID string) *RunHistory {
	h.mu.RLock()
	hist, ok := h.cache[agentID]
	h.mu.RUnlock()

	if ok {
		hist.mu.Lock()
		hist.LastAccessed = time.Now()
		hist.mu.Unlock()
		return hist
	}

	// Try to load from disk.
	hist = h.loadFromDisk(agentID)
	if hist != nil {
		h.mu.Lock()
		h.cache[agentID] = hist
		h.mu.Unlock()
		return hist
	}

	hist = &RunHistory{
		AgentID:      agentID,
		Runs:         make([]RunRecord, 0),
		MaxRuns:      defaultMaxRuns,
		LastAccessed: time.Now(),
	}

	h.mu.Lock()
	h.cache[agentID] = hist
	h.mu.Unlock()

	h.logger.Info("run history created", "agent", agentID)
	return hist
}

// Add appends a run record and enforces the retention limit.
func (r *RunHistory) Add(rec RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Runs = append(r.Runs, rec)
	r.compact()
	r.LastAccessed = time.Now()
}

// Recent returns the newest n records, newest last.
func (r *RunHistory) Recent(n int) []RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.Runs) {
		n = len(r.Runs)
	}
	out := make([]RunRecord, n)
	copy(out, r.Runs[len(r.Runs)-n:])
	return out
}

// FailureRate reports the fraction of retained runs that failed.
func (r *RunHistory) FailureRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.Runs) == 0 {
		return 0
	}
	var failed int
	for _, rec := range r.Runs {
		if rec.Failed {
			failed++
		}
	}
	return float64(failed) / float64(len(r.Runs))
}

// compact drops the middle of the history when it exceeds MaxRuns,
// keeping the earliest baseline records and the recent tail. Caller must
// hold the write lock.
func (r *RunHistory) compact() {
	if len(r.Runs) <= r.MaxRuns {
		return
	}

	tail := r.MaxRuns - headKeepRuns
	kept := make([]RunRecord, 0, r.MaxRuns)
	kept = append(kept, r.Runs[:headKeepRuns]...)
	kept = append(kept, r.Runs[len(r.Runs)-tail:]...)
	r.Runs = kept
	r.CompactionCount++
}

// Save persists an agent's history to disk.
func (h *HistoryStore) Save(agentID string) error {
	h.mu.RLock()
	hist, ok := h.cache[agentID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	hist.mu.RLock()
	data, err := json.MarshalIndent(hist, "", "  ")
	hist.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if err := os.WriteFile(h.historyPath(agentID), data, 0640); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}

// SaveAll persists all cached histories.
func (h *HistoryStore) SaveAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.cache))
	for id := range h.cache {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		if err := h.Save(id); err != nil {
			h.logger.Error("failed to save history", "agent", id, "error", err)
		}
	}
}

func (h *HistoryStore) loadFromDisk(agentID string) *RunHistory {
	data, err := os.ReadFile(h.historyPath(agentID))
	if err != nil {
		return nil
	}

	var hist RunHistory
	if err := json.Unmarshal(data, &hist); err != nil {
		h.logger.Error("failed to parse history file", "agent", agentID, "error", err)
		return nil
	}
	if hist.MaxRuns == 0 {
		hist.MaxRuns = defaultMaxRuns
	}
	hist.LastAccessed = time.Now()
	return &hist
}

func (h *HistoryStore) historyPath(agentID string) string {
	return filepath.Join(h.dataDir, strings.ReplaceAll(agentID, "/", "--")+".json")
}
