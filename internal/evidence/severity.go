package evidence

// Severity classifies how concerning a record or claim is.
type Severity string

const (
	SeverityHealthy  Severity = "healthy"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison (critical > warning > healthy).
var severityRank = map[Severity]int{
	SeverityHealthy:  0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Valid reports whether s is a known severity value.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the numeric order of a severity. Unknown values rank below healthy.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// MaxSeverity returns the highest severity among the given records.
// An empty slice yields healthy.
func MaxSeverity(records []Record) Severity {
	max := SeverityHealthy
	for _, r := range records {
		if r.Severity.Rank() > max.Rank() {
			max = r.Severity
		}
	}
	return max
}
