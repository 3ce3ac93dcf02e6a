package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/cadencehq/cadence/internal/runtime"
)

// RegisterBuiltins installs the built-in compute functions every
// deployment gets. Skills reference these by name in their step
// definitions.
func RegisterBuiltins(ft *runtime.FuncTable) error {
	builtins := map[string]runtime.StepFunc{
		"noop":           noop,
		"window_filter":  windowFilter,
		"threshold_flag": thresholdFlag,
		"aggregate":      aggregate,
	}
	for name, fn := range builtins {
		if err := ft.Register(name, fn); err != nil {
			return fmt.Errorf("register builtin %s: %w", name, err)
		}
	}
	return nil
}

// noop passes its args through unchanged. Used by skills that only need
// a step to carry static arguments into later steps.
func noop(ctx context.Context, args map[string]any, rc *runtime.RunContext) (any, error) {
	return args, nil
}

// windowFilter keeps records whose date field falls inside one of the
// run's time windows. Records without a parseable date are dropped.
//
// args: "records" []any, "date_field" string
func windowFilter(ctx context.Context, args map[string]any, rc *runtime.RunContext) (any, error) {
	records, err := recordsArg(args)
	if err != nil {
		return nil, err
	}
	dateField, _ := args["date_field"].(string)
	if dateField == "" {
		return nil, fmt.Errorf("window_filter: date_field required")
	}

	if len(rc.TimeWindows) == 0 {
		return map[string]any{"records": records, "count": len(records)}, nil
	}

	var kept []map[string]any
	for _, rec := range records {
		ts, ok := recordTime(rec, dateField)
		if !ok {
			continue
		}
		for _, w := range rc.TimeWindows {
			if !ts.Before(w.Start) && !ts.After(w.End) {
				kept = append(kept, rec)
				break
			}
		}
	}
	return map[string]any{"records": kept, "count": len(kept)}, nil
}

// thresholdFlag partitions records by comparing a numeric field against a
// threshold.
//
// args: "records" []any, "field" string, "threshold" number,
// "op" string ("gt" default, or "lt")
func thresholdFlag(ctx context.Context, args map[string]any, rc *runtime.RunContext) (any, error) {
	records, err := recordsArg(args)
	if err != nil {
		return nil, err
	}
	field, _ := args["field"].(string)
	if field == "" {
		return nil, fmt.Errorf("threshold_flag: field required")
	}
	threshold, ok := numberArg(args["threshold"])
	if !ok {
		return nil, fmt.Errorf("threshold_flag: numeric threshold required")
	}
	op, _ := args["op"].(string)
	if op == "" {
		op = "gt"
	}
	if op != "gt" && op != "lt" {
		return nil, fmt.Errorf("threshold_flag: unknown op %q", op)
	}

	var flagged, passed []map[string]any
	for _, rec := range records {
		val, ok := numberArg(rec[field])
		if !ok {
			passed = append(passed, rec)
			continue
		}
		hit := (op == "gt" && val > threshold) || (op == "lt" && val < threshold)
		if hit {
			flagged = append(flagged, rec)
		} else {
			passed = append(passed, rec)
		}
	}

	return map[string]any{
		"flagged":   flagged,
		"passed":    passed,
		"count":     len(flagged),
		"threshold": threshold,
		"field":     field,
	}, nil
}

// aggregate computes a summary statistic over a numeric field.
//
// args: "records" []any, "field" string, "fn" string
// ("count", "sum", "avg", "min", "max")
func aggregate(ctx context.Context, args map[string]any, rc *runtime.RunContext) (any, error) {
	records, err := recordsArg(args)
	if err != nil {
		return nil, err
	}
	fn, _ := args["fn"].(string)
	if fn == "" {
		fn = "count"
	}
	if fn == "count" {
		return map[string]any{"value": float64(len(records)), "fn": fn}, nil
	}

	field, _ := args["field"].(string)
	if field == "" {
		return nil, fmt.Errorf("aggregate: field required for %s", fn)
	}

	var values []float64
	for _, rec := range records {
		if v, ok := numberArg(rec[field]); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return map[string]any{"value": 0.0, "fn": fn, "samples": 0}, nil
	}

	var out float64
	switch fn {
	case "sum", "avg":
		for _, v := range values {
			out += v
		}
		if fn == "avg" {
			out /= float64(len(values))
		}
	case "min":
		out = values[0]
		for _, v := range values[1:] {
			if v < out {
				out = v
			}
		}
	case "max":
		out = values[0]
		for _, v := range values[1:] {
			if v > out {
				out = v
			}
		}
	default:
		return nil, fmt.Errorf("aggregate: unknown fn %q", fn)
	}

	return map[string]any{"value": out, "fn": fn, "samples": len(values)}, nil
}

// recordsArg extracts the "records" argument, accepting both the decoded
// []any shape and the native []map[string]any shape.
func recordsArg(args map[string]any) ([]map[string]any, error) {
	switch v := args["records"].(type) {
	case nil:
		return nil, fmt.Errorf("records required")
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("records must be objects, got %T", item)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("records must be a list, got %T", v)
	}
}

func numberArg(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func recordTime(rec map[string]any, field string) (time.Time, bool) {
	switch v := rec[field].(type) {
	case time.Time:
		return v, true
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	default:
		return time.Time{}, false
	}
}
