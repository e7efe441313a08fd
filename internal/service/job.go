package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/statichq/sitesmith/api/v1alpha1"
	"github.com/statichq/sitesmith/internal/config"
	"github.com/statichq/sitesmith/internal/generation"
	"github.com/statichq/sitesmith/internal/orchestrator"
	"github.com/statichq/sitesmith/internal/ratelimit"
	"github.com/statichq/sitesmith/internal/secrets"
	"github.com/statichq/sitesmith/internal/store"
	"github.com/statichq/sitesmith/internal/store/model"
	"github.com/statichq/sitesmith/internal/workspace"
	"github.com/statichq/sitesmith/pkg/metrics"
)

const (
	actionSubmit = "submit"
	actionDeploy = "deploy"
)

// QueueClient is the insert-side surface of the job queue.
type QueueClient interface {
	InsertGenerate(ctx context.Context, jobID uuid.UUID) (int64, error)
	InsertDeploy(ctx context.Context, jobID uuid.UUID, force bool) (int64, error)
}

// SecretSnapshotter is the session-to-snapshot surface of the secrets store.
type SecretSnapshotter interface {
	Snapshot(ctx context.Context, ref, sessionID string, kinds ...secrets.Kind) error
	ClearSnapshot(ctx context.Context, ref string) error
}

type JobService struct {
	store   store.Store
	secrets SecretSnapshotter
	limiter *ratelimit.Limiter
	queue   QueueClient
	staging *workspace.Staging
	cfg     *config.Config
	log     *zap.SugaredLogger
}

func NewJobService(s store.Store, sec SecretSnapshotter, limiter *ratelimit.Limiter, queue QueueClient, staging *workspace.Staging, cfg *config.Config) *JobService {
	return &JobService{
		store:   s,
		secrets: sec,
		limiter: limiter,
		queue:   queue,
		staging: staging,
		cfg:     cfg,
		log:     zap.S().Named("job_service"),
	}
}

// Create admits a new job: validation, rate limit, queue ceiling, per-session
// cap, credential snapshot, then the durable row and the queue entry. Any
// admission failure leaves no queue entry behind.
func (s *JobService) Create(ctx context.Context, sessionID, caller string, request api.JobCreate) (*api.Job, error) {
	if err := s.validate(&request); err != nil {
		return nil, err
	}

	res, err := s.limiter.CheckAndIncrement(ctx, actionSubmit, sessionID, caller,
		s.cfg.Service.SubmitRateLimit, time.Duration(s.cfg.Service.SubmitRateWindowSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		metrics.IncreaseRateLimitRejectsMetric(actionSubmit)
		return nil, NewErrRateLimited(actionSubmit, res.RetryAfter)
	}

	pending, err := s.store.Queue().PendingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depth: %w", err)
	}
	metrics.UpdateQueueDepthMetric(pending)
	if pending >= int64(s.cfg.Service.PendingJobsCeiling) {
		return nil, NewErrQueueOverloaded(pending, s.cfg.Service.PendingJobsCeiling)
	}

	active, err := s.store.Job().CountActive(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active jobs: %w", err)
	}
	if active >= int64(s.cfg.Service.ActiveJobsPerSession) {
		return nil, NewErrTooManyActiveJobs(active, s.cfg.Service.ActiveJobsPerSession)
	}

	jobID := uuid.New()

	kinds := []secrets.Kind{secrets.KindLLM}
	if request.DeliveryMode == api.DeliveryModePublish {
		kinds = append(kinds, secrets.KindPublish)
	}
	if err := s.secrets.Snapshot(ctx, orchestrator.SnapshotRef(jobID), sessionID, kinds...); err != nil {
		var missing *secrets.MissingCredentialError
		if errors.As(err, &missing) {
			return nil, NewErrIntegrationRequired(string(missing.Kind))
		}
		return nil, err
	}

	if err := s.stageAttachments(ctx, jobID, request.Attachments); err != nil {
		s.discardAdmission(jobID)
		return nil, err
	}

	payload, err := json.Marshal(request)
	if err != nil {
		s.discardAdmission(jobID)
		return nil, err
	}

	job, err := s.store.Job().Create(ctx, &model.Job{
		ID:           jobID,
		SessionID:    sessionID,
		Title:        request.Title,
		Brief:        request.Brief,
		Payload:      payload,
		Status:       string(api.JobStatusQueued),
		Provider:     request.Provider,
		Model:        request.Model,
		DeliveryMode: string(request.DeliveryMode),
		RepoOwner:    request.RepoOwner,
		RepoName:     request.RepoName,
	})
	if err != nil {
		s.discardAdmission(jobID)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if _, err := s.queue.InsertGenerate(ctx, jobID); err != nil {
		s.discardAdmission(jobID)
		msg := "failed to enqueue job"
		code := "enqueue_failed"
		if _, uerr := s.store.Job().UpdateStatus(ctx, jobID, string(api.JobStatusFailed), &store.JobUpdate{
			ErrorCode:    &code,
			ErrorMessage: &msg,
		}); uerr != nil {
			s.log.Errorw("failed to mark unenqueued job", "job_id", jobID, "error", uerr)
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.appendEvent(ctx, jobID, model.EventLevelInfo, "job accepted")
	s.log.Infow("job created", "job_id", jobID, "session_id", sessionID, "delivery_mode", job.DeliveryMode)

	return mapJob(job), nil
}

// Get returns the job when it belongs to the session.
func (s *JobService) Get(ctx context.Context, sessionID string, jobID uuid.UUID) (*api.Job, error) {
	job, err := s.ownedJob(ctx, sessionID, jobID)
	if err != nil {
		return nil, err
	}
	return mapJob(job), nil
}

// List returns the session's jobs, newest first.
func (s *JobService) List(ctx context.Context, sessionID string, limit int) (*api.JobList, error) {
	filter := store.NewJobQueryFilter().BySessionID(sessionID)
	opts := store.NewJobQueryOptions().WithSortOrder(store.SortByNewestFirst)
	if limit > 0 {
		opts = opts.WithLimit(limit)
	}

	jobs, err := s.store.Job().List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := &api.JobList{Items: make([]api.Job, 0, len(jobs))}
	for i := range jobs {
		out.Items = append(out.Items, *mapJob(&jobs[i]))
	}
	return out, nil
}

// Events returns the job's event page after the given cursor.
func (s *JobService) Events(ctx context.Context, sessionID string, jobID uuid.UUID, afterID int64, limit int) (*api.JobEventList, error) {
	if _, err := s.ownedJob(ctx, sessionID, jobID); err != nil {
		return nil, err
	}

	events, err := s.store.Event().List(ctx, jobID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}

	out := &api.JobEventList{Items: make([]api.JobEvent, 0, len(events)), LastID: afterID}
	for _, e := range events {
		out.Items = append(out.Items, api.JobEvent{
			ID:        e.ID,
			Level:     e.Level,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
		out.LastID = e.ID
	}
	return out, nil
}

// Artifact returns the stored archive path and download name of a completed
// job.
func (s *JobService) Artifact(ctx context.Context, sessionID string, jobID uuid.UUID) (string, string, error) {
	job, err := s.ownedJob(ctx, sessionID, jobID)
	if err != nil {
		return "", "", err
	}
	if job.Status != string(api.JobStatusCompleted) || job.ArtifactPath == nil || job.ArtifactName == nil {
		return "", "", NewErrArtifactNotAvailable(jobID)
	}
	if _, err := os.Stat(*job.ArtifactPath); err != nil {
		return "", "", NewErrArtifactNotAvailable(jobID)
	}
	return *job.ArtifactPath, *job.ArtifactName, nil
}

// Deploy publishes the stored artifact of a completed job through the queue.
func (s *JobService) Deploy(ctx context.Context, sessionID, caller string, jobID uuid.UUID, force bool) (*api.Job, error) {
	job, err := s.ownedJob(ctx, sessionID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != string(api.JobStatusCompleted) {
		return nil, NewErrInvalidJobState(jobID, job.Status)
	}
	if job.ArtifactPath == nil {
		return nil, NewErrArtifactNotAvailable(jobID)
	}

	res, err := s.limiter.CheckAndIncrement(ctx, actionDeploy, sessionID, caller,
		s.cfg.Service.DeployRateLimit, time.Duration(s.cfg.Service.DeployRateWindowSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		metrics.IncreaseRateLimitRejectsMetric(actionDeploy)
		return nil, NewErrRateLimited(actionDeploy, res.RetryAfter)
	}

	ref := orchestrator.DeploySnapshotRef(jobID)
	if err := s.secrets.Snapshot(ctx, ref, sessionID, secrets.KindPublish); err != nil {
		var missing *secrets.MissingCredentialError
		if errors.As(err, &missing) {
			return nil, NewErrIntegrationRequired(string(missing.Kind))
		}
		return nil, err
	}

	if _, err := s.queue.InsertDeploy(ctx, jobID, force); err != nil {
		if cerr := s.secrets.ClearSnapshot(context.WithoutCancel(ctx), ref); cerr != nil {
			s.log.Warnw("failed to clear deploy snapshot", "ref", ref, "error", cerr)
		}
		return nil, fmt.Errorf("failed to enqueue deployment: %w", err)
	}

	s.appendEvent(ctx, jobID, model.EventLevelInfo, "deployment requested")
	return mapJob(job), nil
}

func (s *JobService) validate(request *api.JobCreate) error {
	if request.Title == "" {
		return NewErrInvalidJobRequest("title is required")
	}
	if request.Brief == "" {
		return NewErrInvalidJobRequest("brief is required")
	}
	if !generation.IsSupportedProvider(request.Provider) {
		return NewErrInvalidJobRequest("unsupported LLM provider: " + request.Provider)
	}

	model, err := generation.ResolveModel(request.Provider, request.Model)
	if err != nil {
		return NewErrInvalidJobRequest(err.Error())
	}
	request.Model = model

	switch request.DeliveryMode {
	case "":
		request.DeliveryMode = api.DeliveryModePackage
	case api.DeliveryModePackage, api.DeliveryModePublish:
	default:
		return NewErrInvalidJobRequest("unknown delivery mode: " + string(request.DeliveryMode))
	}

	for _, a := range request.Attachments {
		data, err := a.Decode()
		if err != nil {
			return NewErrInvalidJobRequest(err.Error())
		}
		if int64(len(data)) > s.cfg.Service.AttachmentMaxBytes {
			return NewErrAttachmentTooLarge(a.Name, len(data), s.cfg.Service.AttachmentMaxBytes)
		}
	}
	return nil
}

func (s *JobService) stageAttachments(ctx context.Context, jobID uuid.UUID, attachments []api.Attachment) error {
	for _, a := range attachments {
		data, err := a.Decode()
		if err != nil {
			return NewErrInvalidJobRequest(err.Error())
		}
		if err := s.staging.Write(jobID.String(), a.Name, data); err != nil {
			return err
		}

		digest := sha256.Sum256(data)
		if _, err := s.store.Attachment().Create(ctx, &model.JobAttachment{
			JobID:     jobID,
			Name:      a.Name,
			MediaType: a.MediaType(),
			Size:      int64(len(data)),
			SHA256:    hex.EncodeToString(digest[:]),
		}); err != nil {
			return fmt.Errorf("failed to record attachment: %w", err)
		}
	}
	return nil
}

// discardAdmission unwinds the pre-enqueue side effects of a failed Create.
func (s *JobService) discardAdmission(jobID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.secrets.ClearSnapshot(ctx, orchestrator.SnapshotRef(jobID)); err != nil {
		s.log.Warnw("failed to clear snapshot", "job_id", jobID, "error", err)
	}
	if err := s.staging.Remove(jobID.String()); err != nil {
		s.log.Warnw("failed to remove staged attachments", "job_id", jobID, "error", err)
	}
}

func (s *JobService) ownedJob(ctx context.Context, sessionID string, jobID uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		return nil, err
	}
	// jobs of other sessions are indistinguishable from absent ones
	if job.SessionID != sessionID {
		return nil, NewErrJobNotFound(jobID)
	}
	return job, nil
}

func (s *JobService) appendEvent(ctx context.Context, jobID uuid.UUID, level, message string) {
	if _, err := s.store.Event().Append(ctx, jobID, level, message); err != nil {
		s.log.Warnw("failed to append job event", "job_id", jobID, "error", err)
	}
}

func mapJob(job *model.Job) *api.Job {
	return &api.Job{
		ID:           job.ID.String(),
		Status:       api.StringToJobStatus(job.Status),
		Title:        job.Title,
		DeliveryMode: api.DeliveryMode(job.DeliveryMode),
		RepoURL:      job.RepoURL,
		PagesURL:     job.PagesURL,
		CommitSHA:    job.CommitSHA,
		ArtifactName: job.ArtifactName,
		ErrorCode:    job.ErrorCode,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
}
