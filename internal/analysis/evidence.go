package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/internal/evidence"
	"github.com/cadencehq/cadence/internal/runtime"
)

// ThresholdEvidence builds a runtime evidence function that turns the
// flagged records of a threshold_flag step into severity-tagged evidence.
// outputKey names the step output to read; claimText describes what a
// flagged entity means.
func ThresholdEvidence(outputKey, claimText string, mapping evidence.FieldMap, severity evidence.Severity, logger *slog.Logger) runtime.EvidenceFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, outputs map[string]any, rc *runtime.RunContext) (*evidence.Bundle, error) {
		raw, ok := outputs[outputKey].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("evidence: output %q missing or not an object", outputKey)
		}
		flagged, err := recordsArg(map[string]any{"records": raw["flagged"]})
		if err != nil {
			return nil, fmt.Errorf("evidence: %w", err)
		}

		b := evidence.NewBuilder(logger)
		var ids []string
		var values []float64
		for _, rec := range flagged {
			er := evidence.EntityRecord(rec, mapping, severity, logger)
			if err := b.AddRecord(er); err != nil {
				return nil, err
			}
			ids = append(ids, er.EntityID)
			if v, ok := numberArg(rec[fmt.Sprint(raw["field"])]); ok {
				values = append(values, v)
			}
		}

		if len(ids) > 0 {
			threshold := fmt.Sprint(raw["threshold"])
			metric := fmt.Sprint(raw["field"])
			if err := b.Claim(claimText, ids, metric, values, threshold); err != nil {
				return nil, err
			}
		}
		return b.Build(), nil
	}
}
