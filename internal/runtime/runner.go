package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cadencehq/cadence/internal/evidence"
	"github.com/cadencehq/cadence/internal/skills"
)

// StepStatus is the terminal state of one step in a run.
type StepStatus string

const (
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
)

// StepResult records how one step ended.
type StepResult struct {
	Status   StepStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the outcome of one skill run. Execution errors are
// aggregated here rather than returned: the caller decides whether a
// partially-failed run is acceptable.
type RunResult struct {
	RunID       string                `json:"run_id"`
	SkillID     string                `json:"skill_id"`
	StepOutputs map[string]any        `json:"step_outputs"` // keyed by output key
	Steps       map[string]StepResult `json:"steps"`        // keyed by step id
	Evidence    *evidence.Bundle      `json:"evidence,omitempty"`
	Duration    time.Duration         `json:"duration"`
	Failed      bool                  `json:"failed"`
}

const defaultModelTimeout = 60 * time.Second

// Runner resolves a skill's step dependency graph and executes it.
// Independent steps may run concurrently up to maxParallel; the default of
// one preserves strictly sequential execution per run.
type Runner struct {
	funcs       *FuncTable
	models      ModelInvoker
	evidenceFns map[string]EvidenceFunc // skill id -> builder
	maxParallel int
	logger      *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMaxParallel allows up to n independent steps to run concurrently
// within one skill run.
func WithMaxParallel(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxParallel = n
		}
	}
}

// WithModelInvoker wires the collaborator that executes model-tier steps.
func WithModelInvoker(m ModelInvoker) RunnerOption {
	return func(r *Runner) { r.models = m }
}

// NewRunner creates a skill runner over the given function table.
func NewRunner(funcs *FuncTable, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		funcs:       funcs,
		evidenceFns: make(map[string]EvidenceFunc),
		maxParallel: 1,
		logger:      logger.With("component", "skill_runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterEvidence binds an evidence builder to a skill id. Registration
// happens at startup alongside skill registration.
func (r *Runner) RegisterEvidence(skillID string, fn EvidenceFunc) {
	r.evidenceFns[skillID] = fn
}

// Execute runs a skill definition to completion. A malformed graph fails
// with InvalidGraphError before any step executes. Step failures mark
// transitive dependents skipped; independent steps still contribute their
// outputs (partial-success semantics).
func (r *Runner) Execute(ctx context.Context, def *skills.Definition, seed Seed) (*RunResult, error) {
	if err := validateGraph(def); err != nil {
		return nil, err
	}

	start := time.Now()
	rc := NewRunContext(seed)
	result := &RunResult{
		RunID:       uuid.New().String(),
		SkillID:     def.ID,
		StepOutputs: make(map[string]any),
		Steps:       make(map[string]StepResult, len(def.Steps)),
	}
	logger := r.logger.With("skill", def.ID, "run", result.RunID, "workspace", seed.WorkspaceID)

	pending := make(map[string]*skills.Step, len(def.Steps))
	for i := range def.Steps {
		pending[def.Steps[i].ID] = &def.Steps[i]
	}

	for len(pending) > 0 {
		batch, skipped := r.partition(pending, result.Steps)

		for _, sk := range skipped {
			result.Steps[sk.id] = StepResult{Status: StatusSkipped, Error: sk.reason}
			delete(pending, sk.id)
			logger.Info("step skipped", "step", sk.id, "reason", sk.reason)
		}
		if len(batch) == 0 {
			if len(skipped) == 0 {
				// Unreachable on a validated graph
				return nil, &InvalidGraphError{SkillID: def.ID, Reason: "no runnable step among remaining"}
			}
			continue
		}

		outcomes := make([]stepOutcome, len(batch))
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(r.maxParallel)
		for i, step := range batch {
			i, step := i, step
			g.Go(func() error {
				// Store at pre-allocated index, no mutex needed
				outcomes[i] = r.executeStep(gCtx, def, step, rc, logger)
				return nil
			})
		}
		_ = g.Wait() // goroutines capture their errors in outcomes

		for i, step := range batch {
			out := outcomes[i]
			delete(pending, step.ID)
			if out.err != nil {
				result.Steps[step.ID] = StepResult{Status: StatusFailed, Error: out.err.Error(), Duration: out.duration}
				logger.Error("step failed", "step", step.ID, "error", out.err, "duration", out.duration)
				continue
			}
			rc.SetStepOutput(step.ID, out.value)
			result.StepOutputs[step.OutputKey] = out.value
			result.Steps[step.ID] = StepResult{Status: StatusCompleted, Duration: out.duration}
			logger.Debug("step completed", "step", step.ID, "duration", out.duration)
		}
	}

	for _, sr := range result.Steps {
		if sr.Status == StatusFailed {
			result.Failed = true
			break
		}
	}

	// Evidence generation receives whatever outputs exist and must never
	// turn a mostly-successful run into a failed one.
	if fn, ok := r.evidenceFns[def.ID]; ok {
		bundle, err := fn(ctx, result.StepOutputs, rc)
		if err != nil {
			logger.Error("evidence builder failed", "error", err)
		} else {
			result.Evidence = bundle
		}
	}

	result.Duration = time.Since(start)
	logger.Info("run finished",
		"failed", result.Failed,
		"steps", len(result.Steps),
		"duration", result.Duration)
	return result, nil
}

type stepOutcome struct {
	value    any
	err      error
	duration time.Duration
}

type skipInfo struct {
	id     string
	reason string
}

// partition splits the pending set into steps ready to run (all
// dependencies completed) and steps that must be skipped (some dependency
// failed or was skipped). Steps with unresolved dependencies stay pending.
func (r *Runner) partition(pending map[string]*skills.Step, done map[string]StepResult) ([]*skills.Step, []skipInfo) {
	var batch []*skills.Step
	var skipped []skipInfo

	for id, step := range pending {
		ready := true
		for _, dep := range step.DependsOn {
			res, terminal := done[dep]
			if !terminal {
				ready = false
				break
			}
			if res.Status != StatusCompleted {
				skipped = append(skipped, skipInfo{id: id, reason: fmt.Sprintf("dependency %q %s", dep, res.Status)})
				ready = false
				break
			}
		}
		if ready {
			batch = append(batch, step)
		}
	}
	return batch, skipped
}

// executeStep dispatches one step by tier and returns its outcome. Panics
// in step functions are contained as step failures.
func (r *Runner) executeStep(ctx context.Context, def *skills.Definition, step *skills.Step, rc *RunContext, logger *slog.Logger) (out stepOutcome) {
	start := time.Now()
	defer func() {
		out.duration = time.Since(start)
		if rec := recover(); rec != nil {
			out.err = &StepExecutionError{SkillID: def.ID, StepID: step.ID, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	args := r.mergeArgs(def, step, rc)

	var value any
	var err error
	switch step.Tier {
	case skills.TierModel:
		if r.models == nil {
			err = fmt.Errorf("no model invoker configured")
			break
		}
		timeout := defaultModelTimeout
		if step.Model.TimeoutSecs > 0 {
			timeout = time.Duration(step.Model.TimeoutSecs) * time.Second
		}
		modelCtx, cancel := context.WithTimeout(ctx, timeout)
		value, err = r.models.Invoke(modelCtx, step.Model, args, rc)
		cancel()
	default:
		var fn StepFunc
		fn, err = r.funcs.Resolve(step.ComputeFn)
		if err != nil {
			// UnknownFunctionError fails only this step
			out.err = err
			return out
		}
		value, err = fn(ctx, args, rc)
	}

	if err != nil {
		out.err = &StepExecutionError{SkillID: def.ID, StepID: step.ID, Err: err}
		return out
	}
	out.value = value
	return out
}

// mergeArgs shallow-merges the step's static computeArgs over the outputs
// of its dependencies (keyed by output key). Static parameters win.
func (r *Runner) mergeArgs(def *skills.Definition, step *skills.Step, rc *RunContext) map[string]any {
	args := make(map[string]any, len(step.ComputeArgs)+len(step.DependsOn))
	for _, depID := range step.DependsOn {
		dep, ok := def.Step(depID)
		if !ok {
			continue
		}
		if out, ok := rc.StepOutput(depID); ok {
			args[dep.OutputKey] = out
		}
	}
	for k, v := range step.ComputeArgs {
		args[k] = v
	}
	return args
}

// validateGraph checks that every dependency references a declared step,
// no step depends on itself, and the graph is acyclic (Kahn's algorithm).
func validateGraph(def *skills.Definition) error {
	ids := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		ids[step.ID] = true
	}

	inDegree := make(map[string]int, len(def.Steps))
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return &InvalidGraphError{SkillID: def.ID, StepID: step.ID, Reason: "step depends on itself"}
			}
			if !ids[dep] {
				return &InvalidGraphError{SkillID: def.ID, StepID: step.ID, Reason: fmt.Sprintf("unknown dependency %q", dep)}
			}
		}
		inDegree[step.ID] = len(step.DependsOn)
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	resolved := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		resolved++

		for _, step := range def.Steps {
			for _, dep := range step.DependsOn {
				if dep == current {
					inDegree[step.ID]--
					if inDegree[step.ID] == 0 {
						queue = append(queue, step.ID)
					}
				}
			}
		}
	}

	if resolved != len(def.Steps) {
		for id, deg := range inDegree {
			if deg > 0 {
				return &InvalidGraphError{SkillID: def.ID, StepID: id, Reason: "cycle detected"}
			}
		}
	}
	return nil
}
