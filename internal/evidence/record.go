package evidence

import (
	"log/slog"
	"time"
)

// FieldKind declares the default substituted when a source field is absent.
type FieldKind int

const (
	FieldString FieldKind = iota // default ""
	FieldNumber                  // default 0
	FieldDate                    // default nil
)

// FieldSpec maps one canonical field name to its source key and kind.
type FieldSpec struct {
	Source   string
	Kind     FieldKind
	Optional bool
}

// FieldMap declares the canonical and derived fields an adapter extracts
// from a raw connector object. Keys are canonical field names.
type FieldMap struct {
	EntityType string
	IDField    string
	Fields     map[string]FieldSpec
	Derived    map[string]FieldSpec
}

// EntityRecord normalizes one raw connector object into a Record using the
// given field mapping. Missing or mistyped source fields never fail the
// pass: the canonical field gets its kind's default and the anomaly is
// logged. The severity is supplied by the caller and passed through.
func EntityRecord(raw map[string]any, mapping FieldMap, severity Severity, logger *slog.Logger) Record {
	if logger == nil {
		logger = slog.Default()
	}

	id, _ := raw[mapping.IDField].(string)
	rec := Record{
		EntityType: mapping.EntityType,
		EntityID:   id,
		Fields:     extractFields(raw, mapping.Fields, mapping.EntityType, id, logger),
		Severity:   severity,
	}
	if len(mapping.Derived) > 0 {
		rec.Derived = extractFields(raw, mapping.Derived, mapping.EntityType, id, logger)
	}
	return rec
}

func extractFields(raw map[string]any, specs map[string]FieldSpec, entityType, entityID string, logger *slog.Logger) map[string]any {
	out := make(map[string]any, len(specs))
	for name, spec := range specs {
		val, present := raw[spec.Source]
		coerced, ok := coerce(val, spec.Kind)
		if !ok {
			// Absent optional fields are expected; anything else is an anomaly
			if present || !spec.Optional {
				logger.Warn("malformed source field, using default",
					"entity_type", entityType,
					"entity_id", entityID,
					"field", name,
					"source", spec.Source)
			}
			coerced = defaultFor(spec.Kind)
		}
		out[name] = coerced
	}
	return out
}

// coerce converts a raw value to the canonical shape for its kind.
func coerce(val any, kind FieldKind) (any, bool) {
	if val == nil {
		return nil, false
	}
	switch kind {
	case FieldString:
		s, ok := val.(string)
		return s, ok
	case FieldNumber:
		switch n := val.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		default:
			return nil, false
		}
	case FieldDate:
		switch d := val.(type) {
		case time.Time:
			return d, true
		case string:
			t, err := time.Parse(time.RFC3339, d)
			if err != nil {
				return nil, false
			}
			return t, true
		default:
			return nil, false
		}
	}
	return nil, false
}

func defaultFor(kind FieldKind) any {
	switch kind {
	case FieldNumber:
		return float64(0)
	case FieldDate:
		return nil
	default:
		return ""
	}
}
