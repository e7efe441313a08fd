package jobs

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

const (
	DefaultQueue  = "sitesmith"
	MaxJobRetries = 1

	GenerateJobKind = "site_generate"
	DeployJobKind   = "site_deploy"
)

// GenerateArgs runs the full brief-to-site pipeline for a queued job.
// This is stored in river_job.args as JSON.
type GenerateArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (GenerateArgs) Kind() string {
	return GenerateJobKind
}

func (GenerateArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       DefaultQueue,
		MaxAttempts: MaxJobRetries,
	}
}

// DeployArgs publishes the already-built artifact of a completed job.
type DeployArgs struct {
	JobID uuid.UUID `json:"job_id"`
	Force bool      `json:"force"`
}

func (DeployArgs) Kind() string {
	return DeployJobKind
}

func (DeployArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       DefaultQueue,
		MaxAttempts: MaxJobRetries,
	}
}
