package runtime

import (
	"sync"
	"time"
)

// TimeWindow bounds one analysis period.
type TimeWindow struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RunContext carries per-execution state for one skill run. Step outputs
// are append-only during the run, keyed by unique step ids, so concurrent
// branches never conflict on writes. Discarded after the run completes.
type RunContext struct {
	WorkspaceID     string
	TimeWindows     []TimeWindow
	BusinessContext map[string]any // read-only during the run
	SkillOutputs    map[string]any // cross-skill state, read-only during the run
	TriggerPayload  map[string]any

	mu          sync.RWMutex
	stepOutputs map[string]any // step id -> result
}

// Seed holds the caller-supplied portion of a RunContext.
type Seed struct {
	WorkspaceID     string
	TimeWindows     []TimeWindow
	BusinessContext map[string]any
	SkillOutputs    map[string]any
	TriggerPayload  map[string]any
}

// NewRunContext creates a RunContext from a seed.
func NewRunContext(seed Seed) *RunContext {
	return &RunContext{
		WorkspaceID:     seed.WorkspaceID,
		TimeWindows:     seed.TimeWindows,
		BusinessContext: seed.BusinessContext,
		SkillOutputs:    seed.SkillOutputs,
		TriggerPayload:  seed.TriggerPayload,
		stepOutputs:     make(map[string]any),
	}
}

// SetStepOutput records a completed step's result. Each step id is written
// at most once.
func (rc *RunContext) SetStepOutput(stepID string, out any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stepOutputs[stepID] = out
}

// StepOutput returns the output of an earlier step, if present.
func (rc *RunContext) StepOutput(stepID string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out, ok := rc.stepOutputs[stepID]
	return out, ok
}

// StepOutputs returns a copy of all step outputs recorded so far.
func (rc *RunContext) StepOutputs() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]any, len(rc.stepOutputs))
	for k, v := range rc.stepOutputs {
		out[k] = v
	}
	return out
}
