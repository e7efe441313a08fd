package events

import "time"

// JobLifecycleEvent is emitted on every job status transition.
type JobLifecycleEvent struct {
	JobID     string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Provider  string    `json:"provider,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// DeploymentEvent is emitted when a site lands on GitHub Pages.
type DeploymentEvent struct {
	JobID        string    `json:"job_id"`
	RepoFullName string    `json:"repo_full_name"`
	PagesURL     string    `json:"pages_url"`
	CommitSHA    string    `json:"commit_sha"`
	At           time.Time `json:"at"`
}
