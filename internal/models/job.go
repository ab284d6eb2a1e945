package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Job status values.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ResultSource exposes a run's ledger to job readers.
type ResultSource interface {
	Entries() []MigrationResult
}

// Job represents an async migration run started through the API.
type Job struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	SourceID      string     `json:"source_id"`
	DestinationID string     `json:"destination_id,omitempty"`
	Status        string     `json:"status"` // "running", "completed", "failed", "cancelled"
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	Output        []string   `json:"output"`

	mu      sync.Mutex
	cancel  context.CancelFunc
	results ResultSource
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// GetStatus returns the current status.
func (j *Job) GetStatus() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.GetStatus() != JobStatusRunning
}

// SetCancel registers the function that stops the run.
func (j *Job) SetCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel stops a running job. The run goroutine records the final status.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetResults attaches the run's ledger.
func (j *Job) SetResults(src ResultSource) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = src
}

// Results returns the ledger entries recorded so far.
func (j *Job) Results() []MigrationResult {
	j.mu.Lock()
	src := j.results
	j.mu.Unlock()
	if src == nil {
		return []MigrationResult{}
	}
	return src.Entries()
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	j.finish(JobStatusCompleted, "")
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string) {
	j.finish(JobStatusFailed, err)
}

// Cancelled marks the job as stopped by the user.
func (j *Job) Cancelled() {
	j.finish(JobStatusCancelled, "")
}

func (j *Job) finish(status, err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Error = err
	now := time.Now()
	j.FinishedAt = &now
}

// JobSnapshot is a point-in-time copy of a Job, safe to serialize.
type JobSnapshot struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	SourceID      string     `json:"source_id"`
	DestinationID string     `json:"destination_id,omitempty"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	LogLines      int        `json:"log_lines"`
}

// Snapshot copies the job's public state under lock.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		ID:            j.ID,
		Kind:          j.Kind,
		SourceID:      j.SourceID,
		DestinationID: j.DestinationID,
		Status:        j.Status,
		StartedAt:     j.StartedAt,
		FinishedAt:    j.FinishedAt,
		Error:         j.Error,
		LogLines:      len(j.Output),
	}
}

// ErrRunInProgress is returned by CreateRun while a running job of the same
// kind already imports into the destination.
var ErrRunInProgress = errors.New("a run of this kind is already in progress on the destination")

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new running job, assigning it a UUID.
func (s *JobStore) Create(kind Kind, sourceID, destinationID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(kind, sourceID, destinationID)
}

// CreateRun adds a migration run unless a running job of the same kind
// already targets destinationID.
func (s *JobStore) CreateRun(kind Kind, sourceID, destinationID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Kind == kind && j.DestinationID == destinationID && !j.Done() {
			return nil, errors.Wrapf(ErrRunInProgress, "job %s", j.ID)
		}
	}
	return s.add(kind, sourceID, destinationID), nil
}

func (s *JobStore) add(kind Kind, sourceID, destinationID string) *Job {
	j := &Job{
		ID:            uuid.New().String(),
		Kind:          kind,
		SourceID:      sourceID,
		DestinationID: destinationID,
		Status:        JobStatusRunning,
		StartedAt:     time.Now(),
		Output:        []string{},
	}
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.After(result[b].StartedAt)
	})
	return result
}
