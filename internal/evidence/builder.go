package evidence

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// ErrFrozen is returned when a builder is mutated after Build.
var ErrFrozen = errors.New("evidence builder is frozen")

// Builder accumulates parameters, data sources, records, and claims for one
// skill run. All Add methods are append-only and order-preserving. Build
// freezes the builder; later mutations return ErrFrozen.
type Builder struct {
	bundle Bundle
	byID   map[string]int // entity id -> record index
	frozen bool
	logger *slog.Logger
}

// NewBuilder creates an empty evidence builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		byID:   make(map[string]int),
		logger: logger.With("component", "evidence"),
	}
}

// AddParameter records one input parameter.
func (b *Builder) AddParameter(p Parameter) error {
	if b.frozen {
		return ErrFrozen
	}
	b.bundle.Parameters = append(b.bundle.Parameters, p)
	return nil
}

// AddDataSource records one data source descriptor.
func (b *Builder) AddDataSource(ds DataSource) error {
	if b.frozen {
		return ErrFrozen
	}
	b.bundle.DataSources = append(b.bundle.DataSources, ds)
	return nil
}

// AddRecord appends a normalized record. The record's severity is computed
// by the caller and preserved unchanged.
func (b *Builder) AddRecord(r Record) error {
	if b.frozen {
		return ErrFrozen
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("record %s/%s: unknown severity %q", r.EntityType, r.EntityID, r.Severity)
	}
	b.byID[r.EntityID] = len(b.bundle.Records)
	b.bundle.Records = append(b.bundle.Records, r)
	return nil
}

// AddClaim appends a claim as-is. Every referenced entity id must already
// have a record, keeping claims traceable back to their evidence.
func (b *Builder) AddClaim(c Claim) error {
	if b.frozen {
		return ErrFrozen
	}
	for _, id := range c.EntityIDs {
		if _, ok := b.byID[id]; !ok {
			return fmt.Errorf("claim %q references entity %q with no record", c.ID, id)
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	b.bundle.Claims = append(b.bundle.Claims, c)
	return nil
}

// Claim builds and appends a claim over the given entity ids, deriving its
// severity as the maximum severity among the referenced records.
func (b *Builder) Claim(text string, entityIDs []string, metric string, values []float64, threshold string) error {
	if b.frozen {
		return ErrFrozen
	}
	refs := make([]Record, 0, len(entityIDs))
	for _, id := range entityIDs {
		idx, ok := b.byID[id]
		if !ok {
			return fmt.Errorf("claim %q references entity %q with no record", text, id)
		}
		refs = append(refs, b.bundle.Records[idx])
	}
	return b.AddClaim(Claim{
		ID:        uuid.New().String(),
		Text:      text,
		EntityIDs: entityIDs,
		Metric:    metric,
		Values:    values,
		Threshold: threshold,
		Severity:  MaxSeverity(refs),
	})
}

// Len returns the current record and claim counts.
func (b *Builder) Len() (records, claims int) {
	return len(b.bundle.Records), len(b.bundle.Claims)
}

// Build freezes the builder and returns the accumulated bundle.
func (b *Builder) Build() *Bundle {
	b.frozen = true
	return &b.bundle
}
