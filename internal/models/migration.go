package models

import (
	"encoding/json"
	"time"
)

// Kind identifies a migratable resource family.
type Kind string

const (
	KindGroup   Kind = "group"
	KindProject Kind = "project"
	KindUser    Kind = "user"
)

// Title returns the capitalised kind name used in ledger messages.
func (k Kind) Title() string {
	switch k {
	case KindGroup:
		return "Group"
	case KindProject:
		return "Project"
	case KindUser:
		return "User"
	}
	return string(k)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindGroup || k == KindProject || k == KindUser
}

// Namespace is the owning namespace embedded in project records.
type Namespace struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	FullPath string `json:"full_path"`
}

// ResourceRecord is a read-only snapshot of a source-side item.
type ResourceRecord struct {
	ID                int        `json:"id"`
	Name              string     `json:"name"`
	Path              string     `json:"path,omitempty"`
	FullPath          string     `json:"full_path,omitempty"`
	PathWithNamespace string     `json:"path_with_namespace,omitempty"`
	Namespace         *Namespace `json:"namespace,omitempty"`
	ParentID          *int       `json:"parent_id,omitempty"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`

	// users
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	State    string `json:"state,omitempty"`
	Bot      bool   `json:"bot,omitempty"`
	IsAdmin  bool   `json:"is_admin,omitempty"`

	// Raw is the full remote payload the record was decoded from.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the raw payload.
func (r *ResourceRecord) UnmarshalJSON(data []byte) error {
	type plain ResourceRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ResourceRecord(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the raw payload back when present so user exports
// keep every attribute the source returned.
func (r ResourceRecord) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	type plain ResourceRecord
	return json.Marshal(plain(r))
}

// Attributes decodes the raw payload into a generic map.
func (r ResourceRecord) Attributes() map[string]interface{} {
	attrs := map[string]interface{}{}
	if len(r.Raw) > 0 {
		_ = json.Unmarshal(r.Raw, &attrs)
	}
	return attrs
}

// NamespacePath returns the namespace full path, or "" when absent.
func (r ResourceRecord) NamespacePath() string {
	if r.Namespace == nil {
		return ""
	}
	return r.Namespace.FullPath
}

// Key returns the exact distinguishing key used for idempotency checks.
func (r ResourceRecord) Key(kind Kind) string {
	switch kind {
	case KindProject:
		return r.PathWithNamespace
	case KindGroup:
		return r.Path
	case KindUser:
		return r.Username
	}
	return ""
}

// DisplayPath is the path shown in ledger messages.
func (r ResourceRecord) DisplayPath(kind Kind) string {
	switch kind {
	case KindProject:
		return r.PathWithNamespace
	case KindUser:
		return r.Email
	}
	return r.Path
}

// JobStatus is the lifecycle state of a remote export or import job.
type JobStatus string

const (
	JobTriggered JobStatus = "triggered"
	JobRunning   JobStatus = "running"
	JobFinished  JobStatus = "finished"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether polling should stop.
func (s JobStatus) Terminal() bool {
	return s == JobFinished || s == JobFailed
}

// ParseJobStatus maps the remote status vocabulary onto JobStatus. GitLab
// reports intermediate states such as "none", "queued", "scheduled",
// "started", "regeneration_in_progress".
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "finished":
		return JobFinished
	case "failed":
		return JobFailed
	case "", "none", "queued", "scheduled":
		return JobTriggered
	}
	return JobRunning
}

// ExportJob tracks one export on the source instance.
type ExportJob struct {
	ResourceID int       `json:"resource_id"`
	Status     JobStatus `json:"status"`
	Artifact   string    `json:"artifact,omitempty"`
}

// ImportJob tracks one import on the target instance.
type ImportJob struct {
	TargetID        int             `json:"target_id"`
	Status          JobStatus       `json:"status"`
	Error           string          `json:"error,omitempty"`
	FailedRelations json.RawMessage `json:"failed_relations,omitempty"`
}

// Outcome is the terminal classification of one ledger entry.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeSuccess  Outcome = "success"
	OutcomeWarning  Outcome = "warning"
	OutcomeError    Outcome = "error"
	OutcomeTimedOut Outcome = "timed_out"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{OutcomeSuccess, OutcomeWarning, OutcomeSkipped, OutcomeError, OutcomeTimedOut}

// Failed reports whether the outcome should be re-run by an operator.
func (o Outcome) Failed() bool {
	return o == OutcomeError || o == OutcomeTimedOut
}

// MigrationResult is one append-only ledger entry.
type MigrationResult struct {
	Kind     Kind      `json:"kind"`
	SourceID int       `json:"source_id"`
	TargetID *int      `json:"target_id"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Outcome  Outcome   `json:"outcome"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// ResourceState is a step of the per-resource pipeline.
type ResourceState string

const (
	StatePending        ResourceState = "pending"
	StateExported       ResourceState = "exported"
	StateDownloaded     ResourceState = "downloaded"
	StateSkipped        ResourceState = "skipped"
	StateChecked        ResourceState = "checked"
	StateImported       ResourceState = "imported"
	StatePolledFinished ResourceState = "polled-finished"
	StatePolledFailed   ResourceState = "polled-failed"
	StateTriggerError   ResourceState = "trigger-error"
	StateTimedOut       ResourceState = "timed-out"
	StateLedgered       ResourceState = "ledgered"
)
