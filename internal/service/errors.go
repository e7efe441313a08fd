package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(id uuid.UUID) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %s not found", id)}
}

type ErrQueueOverloaded struct {
	error
}

func NewErrQueueOverloaded(pending int64, ceiling int) *ErrQueueOverloaded {
	return &ErrQueueOverloaded{fmt.Errorf("queue is overloaded: %d pending jobs (ceiling %d), try again later", pending, ceiling)}
}

type ErrTooManyActiveJobs struct {
	error
}

func NewErrTooManyActiveJobs(active int64, limit int) *ErrTooManyActiveJobs {
	return &ErrTooManyActiveJobs{fmt.Errorf("session already has %d active jobs (limit %d)", active, limit)}
}

type ErrTooManyPreviews struct {
	error
}

func NewErrTooManyPreviews(live, limit int) *ErrTooManyPreviews {
	return &ErrTooManyPreviews{fmt.Errorf("session already has %d live previews (limit %d)", live, limit)}
}

// ErrRateLimited carries the retry-after hint from the limiter window.
type ErrRateLimited struct {
	error
	RetryAfter time.Duration
}

func NewErrRateLimited(action string, retryAfter time.Duration) *ErrRateLimited {
	return &ErrRateLimited{
		error:      fmt.Errorf("rate limit exceeded for %s, retry in %s", action, retryAfter),
		RetryAfter: retryAfter,
	}
}

type ErrInvalidJobRequest struct {
	error
}

func NewErrInvalidJobRequest(message string) *ErrInvalidJobRequest {
	return &ErrInvalidJobRequest{fmt.Errorf("invalid job request: %s", message)}
}

type ErrAttachmentTooLarge struct {
	error
}

func NewErrAttachmentTooLarge(name string, size int, limit int64) *ErrAttachmentTooLarge {
	return &ErrAttachmentTooLarge{fmt.Errorf("attachment %s is %d bytes, limit is %d", name, size, limit)}
}

// ErrIntegrationRequired reports a missing credential kind before any queue
// entry is made.
type ErrIntegrationRequired struct {
	error
	Kind string
}

func NewErrIntegrationRequired(kind string) *ErrIntegrationRequired {
	return &ErrIntegrationRequired{
		error: fmt.Errorf("missing required integration: %s credentials must be configured", kind),
		Kind:  kind,
	}
}

type ErrArtifactNotAvailable struct {
	error
}

func NewErrArtifactNotAvailable(id uuid.UUID) *ErrArtifactNotAvailable {
	return &ErrArtifactNotAvailable{fmt.Errorf("job %s has no downloadable artifact", id)}
}

type ErrInvalidJobState struct {
	error
}

func NewErrInvalidJobState(id uuid.UUID, status string) *ErrInvalidJobState {
	return &ErrInvalidJobState{fmt.Errorf("job %s is %s, operation not allowed in this state", id, status)}
}

type ErrPreviewNotAvailable struct {
	error
}

func NewErrPreviewNotAvailable() *ErrPreviewNotAvailable {
	return &ErrPreviewNotAvailable{fmt.Errorf("preview not found or expired")}
}

type ErrNotStaticSite struct {
	error
}

func NewErrNotStaticSite(id uuid.UUID) *ErrNotStaticSite {
	return &ErrNotStaticSite{fmt.Errorf("job %s artifact has no index.html, preview requires a static site", id)}
}
