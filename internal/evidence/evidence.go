package evidence

// Parameter describes one tunable input that shaped a skill run.
type Parameter struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Value        any    `json:"value"`
	Description  string `json:"description,omitempty"`
	Configurable bool   `json:"configurable"`
}

// DataSource identifies a connector or dataset a skill read from.
type DataSource struct {
	Name          string `json:"name"`
	ConnectorType string `json:"connector_type"`
	RecordCount   int    `json:"record_count"`
	TimeWindow    string `json:"time_window,omitempty"`
}

// Record is one normalized entity observation with a severity tag.
type Record struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Fields     map[string]any `json:"fields"`
	Derived    map[string]any `json:"derived,omitempty"`
	Severity   Severity       `json:"severity"`
}

// Claim is a human-readable finding summarizing one or more records.
type Claim struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	EntityIDs []string  `json:"entity_ids"`
	Metric    string    `json:"metric,omitempty"`
	Values    []float64 `json:"values,omitempty"`
	Threshold string    `json:"threshold,omitempty"`
	Severity  Severity  `json:"severity"`
}

// Bundle is the frozen output of an evidence build. Slices preserve
// insertion order and must not be mutated after Build.
type Bundle struct {
	Parameters  []Parameter  `json:"parameters"`
	DataSources []DataSource `json:"data_sources"`
	Records     []Record     `json:"records"`
	Claims      []Claim      `json:"claims"`
}

// RecordIDs returns the set of entity ids present in the bundle's records.
func (b *Bundle) RecordIDs() map[string]bool {
	ids := make(map[string]bool, len(b.Records))
	for _, r := range b.Records {
		ids[r.EntityID] = true
	}
	return ids
}
