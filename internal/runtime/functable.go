package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/cadencehq/cadence/internal/evidence"
	"github.com/cadencehq/cadence/internal/skills"
)

// StepFunc is a pure compute function invoked by name from a step
// definition. args is the step's computeArgs shallow-merged over the
// outputs accumulated so far (keyed by output key).
type StepFunc func(ctx context.Context, args map[string]any, rc *RunContext) (any, error)

// EvidenceFunc assembles an evidence bundle from whatever step outputs
// exist after a run. outputs is keyed by output key; absent keys must be
// treated as empty, never as a reason to fail.
type EvidenceFunc func(ctx context.Context, outputs map[string]any, rc *RunContext) (*evidence.Bundle, error)

// ModelInvoker executes a model-tier step. The runtime does not care how;
// it only requires a JSON-like result or a typed error.
type ModelInvoker interface {
	Invoke(ctx context.Context, spec *skills.ModelSpec, args map[string]any, rc *RunContext) (any, error)
}

// FuncTable maps compute function names to strongly-typed function values.
// Built at startup; resolution failure is a first-class error, not a crash.
type FuncTable struct {
	mu    sync.RWMutex
	funcs map[string]StepFunc
}

// NewFuncTable creates an empty function table.
func NewFuncTable() *FuncTable {
	return &FuncTable{funcs: make(map[string]StepFunc)}
}

// Register adds a function under a name. Duplicate names are rejected so a
// later registration can't silently shadow an earlier one.
func (t *FuncTable) Register(name string, fn StepFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.funcs[name]; exists {
		return fmt.Errorf("compute function %q already registered", name)
	}
	t.funcs[name] = fn
	return nil
}

// Resolve looks up a function by name.
func (t *FuncTable) Resolve(name string) (StepFunc, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fn, ok := t.funcs[name]
	if !ok {
		return nil, &UnknownFunctionError{Name: name}
	}
	return fn, nil
}

// Names returns all registered function names.
func (t *FuncTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.funcs))
	for name := range t.funcs {
		names = append(names, name)
	}
	return names
}
