package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is the durable record of one brief-to-site request. Rows are never
// deleted; a job's lifecycle ends by aging out of listings.
type Job struct {
	ID        uuid.UUID `gorm:"primaryKey"`
	SessionID string    `gorm:"index;not null"`
	Title     string    `gorm:"not null"`
	Brief     string    `gorm:"not null"`
	// Payload is the immutable creation request, kept verbatim for the worker.
	Payload []byte `gorm:"type:jsonb"`

	Status       string `gorm:"index;not null"`
	Provider     string
	Model        string
	DeliveryMode string `gorm:"not null"`

	RepoOwner string
	RepoName  string

	ArtifactPath *string
	ArtifactName *string

	RepoURL   *string
	PagesURL  *string
	CommitSHA *string

	ErrorCode    *string
	ErrorMessage *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}
