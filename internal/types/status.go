package types

import "time"

// Canonical run statuses as seen by callers.
const (
	RunStatusStarting   = "starting"
	RunStatusTraining   = "training"
	RunStatusPublishing = "publishing"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// JobRecordView is the reconciliation snapshot of the internal job ledger.
type JobRecordView struct {
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ProviderStatusView is the reconciliation snapshot of the live training
// provider response.
type ProviderStatusView struct {
	Status string   `json:"status"`
	Error  string   `json:"error,omitempty"`
	Logs   string   `json:"logs,omitempty"`
	Output []string `json:"output,omitempty"`
}

// ModelRecordView is the reconciliation snapshot of the persisted model row.
type ModelRecordView struct {
	Status          string     `json:"status"`
	PublishedRepoID string     `json:"published_repo_id,omitempty"`
	IsPublishReady  bool       `json:"is_publish_ready"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// StatusSources is a read-only snapshot of the three independently-maintained
// views for one run. Any of the three may be absent; they may disagree.
type StatusSources struct {
	JobRecord      *JobRecordView      `json:"job_record,omitempty"`
	ProviderStatus *ProviderStatusView `json:"provider_status,omitempty"`
	ModelRecord    *ModelRecordView    `json:"model_record,omitempty"`
}

// CanonicalStatus is the single reconciled, externally-visible status of a
// run. It is derived on every call, never stored.
type CanonicalStatus struct {
	ID                        string        `json:"id"`
	Status                    string        `json:"status"`
	Progress                  int           `json:"progress"`
	Stage                     string        `json:"stage"`
	EstimatedSecondsRemaining *int          `json:"estimated_seconds_remaining,omitempty"`
	PublishedRepoID           string        `json:"published_repo_id,omitempty"`
	Error                     string        `json:"error,omitempty"`
	Logs                      string        `json:"logs,omitempty"`
	NeedsPublish              bool          `json:"needs_publish"`
	CanRetryPublish           bool          `json:"can_retry_publish"`
	Sources                   StatusSources `json:"sources"`
}
