package status

import "time"

// Phase represents where a discovery run currently stands
type Phase string

const (
	// PhaseRunning means a discovery run is in progress
	PhaseRunning Phase = "Running"

	// PhaseComplete means the last discovery run finished
	PhaseComplete Phase = "Complete"

	// PhaseFailed means the last discovery run failed or was interrupted
	PhaseFailed Phase = "Failed"
)

// RepoFailure records one repository that contributed nothing to a run
type RepoFailure struct {
	// Repo is the owner/name identifier
	Repo string `json:"repo"`

	// Reason is the failure classification from the orchestrator
	Reason string `json:"reason"`

	// Message carries the underlying error text
	Message string `json:"message,omitempty"`
}

// RunStatus is the persisted record of the most recent discovery run for
// one category
type RunStatus struct {
	// Phase is the run's current phase
	Phase Phase `json:"phase"`

	// RunID identifies one discovery run across logs and status records
	RunID string `json:"run_id,omitempty"`

	// Message provides additional information about the run
	Message string `json:"message,omitempty"`

	// StartedAt is when the run began
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt is when the run completed or failed
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// LastSuccess is the completion time of the last successful run
	LastSuccess *time.Time `json:"last_success,omitempty"`

	// EntityCount is the number of entities the run discovered
	EntityCount int `json:"entity_count,omitempty"`

	// RepoCount is the number of enabled repositories the run scanned
	RepoCount int `json:"repo_count,omitempty"`

	// Failures lists the repositories excluded from the run's aggregate
	Failures []RepoFailure `json:"failures,omitempty"`
}
