package store

import "time"

// SyncStatus is the lifecycle state of a sync log row.
type SyncStatus string

const (
	StatusPending   SyncStatus = "pending"
	StatusRunning   SyncStatus = "running"
	StatusCompleted SyncStatus = "completed"
	StatusFailed    SyncStatus = "failed"
)

// SyncType distinguishes operator-initiated syncs from scheduled ones.
type SyncType string

const (
	SyncManual    SyncType = "manual"
	SyncScheduled SyncType = "scheduled"
)

// SyncMode selects how much data a sync pulls.
type SyncMode string

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
)

// SyncLog is the persisted lock and audit row for one sync attempt.
// Created pending by the coordinator, advanced by the sync worker, reaped
// to failed by the coordinator when left running past the staleness window.
type SyncLog struct {
	ID            string     `json:"id"`
	WorkspaceID   string     `json:"workspace_id"`
	ConnectorType string     `json:"connector_type"`
	SyncType      SyncType   `json:"sync_type"`
	Status        SyncStatus `json:"status"`
	Mode          SyncMode   `json:"mode"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Errors        []string   `json:"errors,omitempty"`
}

// Active reports whether the row currently excludes new syncs for its pair.
func (l *SyncLog) Active() bool {
	return l.Status == StatusPending || l.Status == StatusRunning
}
