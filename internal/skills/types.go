package skills

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Tier selects how a step (or a whole skill) executes.
type Tier string

const (
	TierCompute Tier = "compute" // pure function from the function table
	TierModel   Tier = "model"   // model-invocation collaborator
)

// TriggerKind names an event that can start a skill run.
type TriggerKind string

const (
	TriggerPostSync TriggerKind = "post_sync"
	TriggerOnDemand TriggerKind = "on_demand"
	TriggerCron     TriggerKind = "cron"
)

// Schedule declares when a skill runs automatically.
type Schedule struct {
	Cron     string        `yaml:"cron,omitempty" json:"cron,omitempty"`
	Triggers []TriggerKind `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// HasTrigger reports whether the schedule includes the given trigger kind.
func (s *Schedule) HasTrigger(kind TriggerKind) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Triggers {
		if t == kind {
			return true
		}
	}
	return false
}

// ModelSpec describes a model-driven step's invocation.
type ModelSpec struct {
	Prompt      string `yaml:"prompt" json:"prompt"`
	MaxTokens   int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs,omitempty" json:"timeout_secs,omitempty"`
}

// Step is one unit of work within a skill.
type Step struct {
	ID          string         `yaml:"id" json:"id"`
	Tier        Tier           `yaml:"tier" json:"tier"`
	ComputeFn   string         `yaml:"compute_fn,omitempty" json:"compute_fn,omitempty"`
	Model       *ModelSpec     `yaml:"model,omitempty" json:"model,omitempty"`
	ComputeArgs map[string]any `yaml:"compute_args,omitempty" json:"compute_args,omitempty"`
	DependsOn   []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	OutputKey   string         `yaml:"output_key" json:"output_key"`
}

// Definition is a named, versioned analysis pipeline. Immutable once
// registered; only derived agent entities carry enable/disable state.
type Definition struct {
	ID              string    `yaml:"id" json:"id"`
	Name            string    `yaml:"name" json:"name"`
	Version         string    `yaml:"version" json:"version"`
	Category        string    `yaml:"category" json:"category"`
	Tier            Tier      `yaml:"tier" json:"tier"`
	RequiredTools   []string  `yaml:"required_tools,omitempty" json:"required_tools,omitempty"`
	RequiredContext []string  `yaml:"required_context,omitempty" json:"required_context,omitempty"`
	Steps           []Step    `yaml:"steps" json:"steps"`
	Schedule        *Schedule `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	OutputFormat    string    `yaml:"output_format,omitempty" json:"output_format,omitempty"`
}

// Validate checks structural validity of a definition. Full graph shape
// (cycles, dangling references) is checked again by the runtime before
// any step executes.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("skill id required")
	}
	if d.Name == "" {
		return fmt.Errorf("skill %s: name required", d.ID)
	}
	if d.Tier != TierCompute && d.Tier != TierModel {
		return fmt.Errorf("skill %s: unknown tier %q", d.ID, d.Tier)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("skill %s: at least one step required", d.ID)
	}

	seen := make(map[string]bool, len(d.Steps))
	seenKeys := make(map[string]string, len(d.Steps))
	for _, step := range d.Steps {
		if step.ID == "" {
			return fmt.Errorf("skill %s: step id required", d.ID)
		}
		if seen[step.ID] {
			return fmt.Errorf("skill %s: duplicate step id %q", d.ID, step.ID)
		}
		switch step.Tier {
		case TierCompute:
			if step.ComputeFn == "" {
				return fmt.Errorf("skill %s: step %s: compute_fn required", d.ID, step.ID)
			}
		case TierModel:
			if step.Model == nil {
				return fmt.Errorf("skill %s: step %s: model spec required", d.ID, step.ID)
			}
		default:
			return fmt.Errorf("skill %s: step %s: unknown tier %q", d.ID, step.ID, step.Tier)
		}
		if step.OutputKey == "" {
			return fmt.Errorf("skill %s: step %s: output_key required", d.ID, step.ID)
		}
		if prev, ok := seenKeys[step.OutputKey]; ok {
			return fmt.Errorf("skill %s: steps %s and %s share output_key %q", d.ID, prev, step.ID, step.OutputKey)
		}
		seenKeys[step.OutputKey] = step.ID
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return fmt.Errorf("skill %s: step %s depends on itself", d.ID, step.ID)
			}
			if !seen[dep] {
				return fmt.Errorf("skill %s: step %s depends on %q which is not declared earlier", d.ID, step.ID, dep)
			}
		}
		seen[step.ID] = true
	}

	if d.Schedule != nil {
		if d.Schedule.Cron != "" {
			if _, err := cron.ParseStandard(d.Schedule.Cron); err != nil {
				return fmt.Errorf("skill %s: invalid cron expression: %w", d.ID, err)
			}
		}
		for _, trig := range d.Schedule.Triggers {
			switch trig {
			case TriggerPostSync, TriggerOnDemand, TriggerCron:
			default:
				return fmt.Errorf("skill %s: unknown trigger %q", d.ID, trig)
			}
		}
	}

	return nil
}

// Scheduled reports whether the definition has a non-empty schedule.
func (d *Definition) Scheduled() bool {
	return d.Schedule != nil && (d.Schedule.Cron != "" || len(d.Schedule.Triggers) > 0)
}

// Step returns the step with the given id, if declared.
func (d *Definition) Step(id string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}
