package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Job is one unit of work handed to the sync workers.
type Job struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	JobType     string         `json:"job_type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    int            `json:"priority"`
}

// Result is a sync worker's completion report, published to the results
// topic once a job finishes. Error is non-empty when the worker gave up.
type Result struct {
	JobID         string `json:"job_id"`
	SyncLogID     string `json:"sync_log_id"`
	WorkspaceID   string `json:"workspace_id"`
	ConnectorType string `json:"connector_type"`
	Mode          string `json:"mode"`
	RecordCount   int    `json:"record_count"`
	Error         string `json:"error,omitempty"`
}

// Queue submits jobs to the external worker pool. Submission is
// fire-and-forget: callers get a job id back, never a completion signal.
// Completion reports arrive separately over the results subscription.
type Queue interface {
	CreateJob(ctx context.Context, job Job) (string, error)
}

// MemoryQueue is an in-process queue used in tests and single-node
// deployments without a broker.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// CreateJob appends the job and returns its id.
func (q *MemoryQueue) CreateJob(ctx context.Context, job Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	q.jobs = append(q.jobs, job)
	return job.ID, nil
}

// Jobs returns a copy of all submitted jobs in submission order.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}
