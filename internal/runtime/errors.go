package runtime

import "fmt"

// InvalidGraphError reports a malformed step dependency graph. It is fatal
// at validation time: no step executes when the graph is invalid.
type InvalidGraphError struct {
	SkillID string
	StepID  string
	Reason  string
}

func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("skill %s: invalid step graph at %q: %s", e.SkillID, e.StepID, e.Reason)
}

// UnknownFunctionError reports a compute step referencing a function that
// is not in the table. It fails only the step, not the whole run.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("compute function %q not registered", e.Name)
}

// StepExecutionError wraps any error returned by a step's underlying
// function. It cascades to skipped status for dependent steps but does not
// abort independent branches.
type StepExecutionError struct {
	SkillID string
	StepID  string
	Err     error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("skill %s: step %s failed: %v", e.SkillID, e.StepID, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}
