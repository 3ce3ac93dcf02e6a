package skills

import (
	"fmt"
	"log/slog"
	"sync"
)

// Policy controls how a registry handles duplicate ids.
type Policy int

const (
	// PolicyStrict rejects duplicate registrations with DuplicateIDError.
	PolicyStrict Policy = iota
	// PolicyLenient overwrites the existing definition and logs a warning.
	// Used for hot-reloadable agent definitions.
	PolicyLenient
)

// Registry is the process-wide catalog of skill definitions. It is
// populated once at startup (single-threaded) and safe for concurrent
// reads afterwards.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	order  []string // registration order, for stable listings
	policy Policy
	logger *slog.Logger
}

// NewRegistry creates an empty registry with the given duplicate policy.
func NewRegistry(policy Policy, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defs:   make(map[string]*Definition),
		policy: policy,
		logger: logger.With("component", "skill_registry"),
	}
}

// Register adds a definition to the registry. Under PolicyStrict a
// duplicate id fails with DuplicateIDError; under PolicyLenient it
// overwrites with a warning.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("invalid skill: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.ID]; exists {
		if r.policy == PolicyStrict {
			return &DuplicateIDError{ID: def.ID}
		}
		r.logger.Warn("overwriting existing skill definition", "skill", def.ID, "version", def.Version)
		r.defs[def.ID] = def
		return nil
	}

	r.defs[def.ID] = def
	r.order = append(r.order, def.ID)
	r.logger.Debug("skill registered", "skill", def.ID, "version", def.Version, "steps", len(def.Steps))
	return nil
}

// RegisterAll bulk-registers definitions, stopping at the first failure.
// Intended for the single-threaded startup population step.
func (r *Registry) RegisterAll(defs []*Definition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	r.logger.Info("skills registered", "count", len(defs))
	return nil
}

// Get returns the definition for id. The second return value reports
// whether it was found; a miss is not an error.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[id]
	return def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// ListByCategory returns all definitions in the given category.
func (r *Registry) ListByCategory(category string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Definition
	for _, id := range r.order {
		if def := r.defs[id]; def.Category == category {
			out = append(out, def)
		}
	}
	return out
}

// ListScheduled returns all definitions with a non-empty schedule.
func (r *Registry) ListScheduled() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Definition
	for _, id := range r.order {
		if def := r.defs[id]; def.Scheduled() {
			out = append(out, def)
		}
	}
	return out
}

// ListByTrigger returns all definitions whose schedule includes the given
// trigger kind.
func (r *Registry) ListByTrigger(kind TriggerKind) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Definition
	for _, id := range r.order {
		if def := r.defs[id]; def.Schedule.HasTrigger(kind) {
			out = append(out, def)
		}
	}
	return out
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
