package store

// schemaStatements create all Cadence tables. The partial unique index on
// sync_logs enforces at the storage layer that at most one pending or
// running sync exists per (workspace, connector) pair; application-level
// checks alone cannot close the race between near-simultaneous
// submissions.
var schemaStatements = []string{
	// Sync logs: lock and audit rows for connector syncs
	`CREATE TABLE IF NOT EXISTS sync_logs (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		connector_type TEXT NOT NULL,
		sync_type TEXT NOT NULL, -- manual, scheduled
		status TEXT NOT NULL, -- pending, running, completed, failed
		mode TEXT NOT NULL, -- full, incremental
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		errors TEXT -- JSON array of error strings
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_logs_pair ON sync_logs(workspace_id, connector_type)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_logs_active
		ON sync_logs(workspace_id, connector_type)
		WHERE status IN ('pending', 'running')`,

	// Watermarks: last successful sync per (workspace, connector)
	`CREATE TABLE IF NOT EXISTS watermarks (
		workspace_id TEXT NOT NULL,
		connector_type TEXT NOT NULL,
		last_sync_at INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, connector_type)
	)`,

	// Evidence bundles: frozen skill run outputs for reporting
	`CREATE TABLE IF NOT EXISTS evidence_bundles (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		bundle TEXT NOT NULL, -- JSON
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_workspace ON evidence_bundles(workspace_id, skill_id)`,
}
