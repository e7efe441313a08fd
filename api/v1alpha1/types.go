// Package v1alpha1 holds the wire types shared between the front door, the
// queue payloads and the worker.
package v1alpha1

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusInProgress   JobStatus = "in_progress"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusDeploying    JobStatus = "deploying"
	JobStatusDeployFailed JobStatus = "deploy_failed"
)

// DeliveryMode selects what happens to the assembled workspace.
type DeliveryMode string

const (
	DeliveryModePackage DeliveryMode = "package"
	DeliveryModePublish DeliveryMode = "publish"
)

func StringToJobStatus(s string) JobStatus {
	switch s {
	case string(JobStatusQueued):
		return JobStatusQueued
	case string(JobStatusInProgress):
		return JobStatusInProgress
	case string(JobStatusCompleted):
		return JobStatusCompleted
	case string(JobStatusFailed):
		return JobStatusFailed
	case string(JobStatusDeploying):
		return JobStatusDeploying
	case string(JobStatusDeployFailed):
		return JobStatusDeployFailed
	default:
		return JobStatusQueued
	}
}

// JobCreate is the payload accepted when a new job is submitted.
type JobCreate struct {
	Title        string       `json:"title"`
	Brief        string       `json:"brief"`
	Provider     string       `json:"provider"`
	Model        string       `json:"model,omitempty"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	RepoOwner    string       `json:"repo_owner,omitempty"`
	RepoName     string       `json:"repo_name,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// Job is the status surface read by the front door.
type Job struct {
	ID           string       `json:"id"`
	Status       JobStatus    `json:"status"`
	Title        string       `json:"title"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	RepoURL      *string      `json:"repo_url,omitempty"`
	PagesURL     *string      `json:"pages_url,omitempty"`
	CommitSHA    *string      `json:"commit_sha,omitempty"`
	ArtifactName *string      `json:"artifact_name,omitempty"`
	ErrorCode    *string      `json:"error_code,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// JobList is the per-session job listing.
type JobList struct {
	Items []Job `json:"items"`
}

// JobEvent is one line of the human readable job log.
type JobEvent struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// JobEventList is a cursor page of job events.
type JobEventList struct {
	Items  []JobEvent `json:"items"`
	LastID int64      `json:"last_id"`
}

// Attachment is an uploaded file carried inline as a data URL.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Decode returns the attachment bytes. Only data URLs are supported.
func (a Attachment) Decode() ([]byte, error) {
	if !strings.HasPrefix(a.URL, "data:") {
		return nil, fmt.Errorf("unsupported attachment URL for %s", a.Name)
	}
	header, data, found := strings.Cut(a.URL, ",")
	if !found {
		return nil, fmt.Errorf("malformed data URL for %s", a.Name)
	}
	if strings.Contains(header, ";base64") {
		return base64.StdEncoding.DecodeString(data)
	}
	unescaped, err := url.QueryUnescape(data)
	if err != nil {
		return nil, err
	}
	return []byte(unescaped), nil
}

// MediaType returns the declared media type of a data URL attachment.
func (a Attachment) MediaType() string {
	if !strings.HasPrefix(a.URL, "data:") {
		return "application/octet-stream"
	}
	header, _, _ := strings.Cut(a.URL, ",")
	mt := strings.SplitN(strings.TrimPrefix(header, "data:"), ";", 2)[0]
	if mt == "" {
		return "application/octet-stream"
	}
	return mt
}

// ManifestFile is one file of a generated site.
type ManifestFile struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	Encoding   string `json:"encoding,omitempty"` // "text" (default) or "base64"
	Executable bool   `json:"executable,omitempty"`
}

// Bytes returns the decoded file content honoring the encoding flag.
func (f ManifestFile) Bytes() ([]byte, error) {
	if f.Encoding == "base64" {
		return base64.StdEncoding.DecodeString(f.Content)
	}
	return []byte(f.Content), nil
}

// Manifest is the structured result of a generation call.
type Manifest struct {
	Files    []ManifestFile `json:"files"`
	Readme   string         `json:"readme,omitempty"`
	Commands []string       `json:"commands,omitempty"`
}

// Preview describes a live preview instance to the caller.
type Preview struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IntegrationState summarizes which credentials a session has configured.
type IntegrationState struct {
	Publish PublishIntegration `json:"publish"`
	LLM     LLMIntegration     `json:"llm"`
}

type PublishIntegration struct {
	Connected bool    `json:"connected"`
	Username  *string `json:"username,omitempty"`
}

type LLMIntegration struct {
	Configured bool    `json:"configured"`
	Provider   *string `json:"provider,omitempty"`
	Model      *string `json:"model,omitempty"`
}
