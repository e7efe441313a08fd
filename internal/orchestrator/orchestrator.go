// Package orchestrator runs the worker-side job pipeline: credentials come
// from a secret snapshot, the manifest from a generation provider, and the
// assembled workspace either becomes a downloadable archive or a published
// GitHub Pages site. Scratch state never outlives a run.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/statichq/sitesmith/api/v1alpha1"
	"github.com/statichq/sitesmith/internal/events"
	"github.com/statichq/sitesmith/internal/generation"
	"github.com/statichq/sitesmith/internal/publish"
	"github.com/statichq/sitesmith/internal/secrets"
	"github.com/statichq/sitesmith/internal/store"
	"github.com/statichq/sitesmith/internal/store/model"
	"github.com/statichq/sitesmith/internal/workspace"
	"github.com/statichq/sitesmith/pkg/metrics"
)

const (
	ErrorCodeCredentialsExpired = "credentials_expired"
	ErrorCodeGenerationFailed   = "generation_failed"
	ErrorCodeAssemblyFailed     = "assembly_failed"
	ErrorCodePackagingFailed    = "packaging_failed"
	ErrorCodePublishFailed      = "publish_failed"
)

// SnapshotRef is the snapshot key used by the generation pipeline.
func SnapshotRef(jobID uuid.UUID) string {
	return jobID.String()
}

// DeploySnapshotRef is the snapshot key used by artifact redeployment, kept
// separate so a redeploy never consumes a pending generation snapshot.
func DeploySnapshotRef(jobID uuid.UUID) string {
	return "deploy:" + jobID.String()
}

// SecretSource is the snapshot-side surface of the secrets store.
type SecretSource interface {
	ReadSnapshot(ctx context.Context, ref string) (map[secrets.Kind]secrets.Bundle, error)
	ClearSnapshot(ctx context.Context, ref string) error
}

// Publisher pushes a workspace to a hosting target.
type Publisher interface {
	Deploy(ctx context.Context, workspace string, opts publish.Options) (*publish.DeploymentResult, error)
}

// ProviderFactory builds a generation provider from snapshotted credentials.
type ProviderFactory func(cfg generation.Config) (generation.Provider, error)

// PublisherFactory builds a publisher from snapshotted credentials.
type PublisherFactory func(creds publish.Credentials) Publisher

// EventSink receives lifecycle events for streaming. A nil sink disables
// streaming without touching the pipeline.
type EventSink interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

// Config carries the orchestrator's tunables out of the service config.
type Config struct {
	WorkspaceRoot         string
	ArtifactRoot          string
	RequestTimeout        time.Duration
	GenerationMaxRetries  int
	AllowManifestCommands bool
	PublishDefaultBranch  string
}

type Orchestrator struct {
	store        store.Store
	secrets      SecretSource
	staging      *workspace.Staging
	newProvider  ProviderFactory
	newPublisher PublisherFactory
	sink         EventSink
	cfg          Config
	log          *zap.SugaredLogger
}

func New(s store.Store, sec SecretSource, staging *workspace.Staging, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       s,
		secrets:     sec,
		staging:     staging,
		newProvider: generation.New,
		newPublisher: func(creds publish.Credentials) Publisher {
			return publish.NewGitHubClient(creds, cfg.PublishDefaultBranch, cfg.RequestTimeout, cfg.GenerationMaxRetries)
		},
		cfg: cfg,
		log: zap.S().Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Option func(*Orchestrator)

func WithProviderFactory(f ProviderFactory) Option {
	return func(o *Orchestrator) { o.newProvider = f }
}

func WithPublisherFactory(f PublisherFactory) Option {
	return func(o *Orchestrator) { o.newPublisher = f }
}

func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// RunGenerate executes the full pipeline for a queued job. Errors are
// recorded on the job row and returned so the queue sees the failure too.
func (o *Orchestrator) RunGenerate(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.Job().Get(ctx, jobID)
	if err != nil {
		// Without a row there is nothing to mark failed; retrying cannot help.
		o.log.Errorw("no job record found", "job_id", jobID, "error", err)
		return nil
	}

	ref := SnapshotRef(jobID)
	var ws *workspace.Manager
	defer func() { o.cleanup(ref, jobID.String(), ws) }()

	var payload api.JobCreate
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return o.fail(ctx, job, ErrorCodeAssemblyFailed, fmt.Errorf("decoding job payload: %w", err))
	}

	now := time.Now()
	if job, err = o.store.Job().UpdateStatus(ctx, jobID, string(api.JobStatusInProgress), &store.JobUpdate{StartedAt: &now}); err != nil {
		return err
	}
	o.appendEvent(ctx, jobID, model.EventLevelInfo, "generation started")
	o.emitLifecycle(ctx, job, "")

	if ws, err = workspace.NewManager(o.cfg.WorkspaceRoot, jobID.String()); err != nil {
		return o.fail(ctx, job, ErrorCodeAssemblyFailed, err)
	}

	snap, err := o.secrets.ReadSnapshot(ctx, ref)
	if err != nil {
		return o.fail(ctx, job, ErrorCodeCredentialsExpired,
			fmt.Errorf("credentials expired before processing: %w", err))
	}

	llm, ok := snap[secrets.KindLLM]
	if !ok {
		return o.fail(ctx, job, ErrorCodeCredentialsExpired, &secrets.MissingCredentialError{Kind: secrets.KindLLM})
	}
	provider, err := o.newProvider(generation.Config{
		Provider:   job.Provider,
		APIKey:     llm["api_key"],
		Model:      job.Model,
		Timeout:    o.cfg.RequestTimeout,
		MaxRetries: o.cfg.GenerationMaxRetries,
	})
	if err != nil {
		return o.fail(ctx, job, ErrorCodeGenerationFailed, err)
	}

	manifest, err := provider.GenerateManifest(ctx, job.Brief, payload.Attachments)
	if err != nil {
		return o.fail(ctx, job, ErrorCodeGenerationFailed, err)
	}
	o.appendEvent(ctx, jobID, model.EventLevelInfo,
		fmt.Sprintf("manifest generated: %d files", len(manifest.Files)))

	if err := o.assemble(ctx, ws, job, &payload, manifest); err != nil {
		return o.fail(ctx, job, ErrorCodeAssemblyFailed, err)
	}

	switch api.DeliveryMode(job.DeliveryMode) {
	case api.DeliveryModePublish:
		deployment, err := o.publishWorkspace(ctx, ws.Path(), job, snap, false)
		if err != nil {
			return o.fail(ctx, job, ErrorCodePublishFailed, err)
		}
		if err := o.completePublished(ctx, job, deployment); err != nil {
			return err
		}
	default:
		if err := o.packageWorkspace(ctx, ws, job); err != nil {
			return o.fail(ctx, job, ErrorCodePackagingFailed, err)
		}
	}

	metrics.IncreaseJobsProcessedMetric("generate", string(api.JobStatusCompleted))
	o.log.Infow("job completed", "job_id", jobID)
	return nil
}

// RunDeploy publishes the stored artifact of an already-completed job.
func (o *Orchestrator) RunDeploy(ctx context.Context, jobID uuid.UUID, force bool) error {
	job, err := o.store.Job().Get(ctx, jobID)
	if err != nil {
		o.log.Errorw("no job record found", "job_id", jobID, "error", err)
		return nil
	}
	ref := DeploySnapshotRef(jobID)
	scratchID := "deploy-" + jobID.String()
	var ws *workspace.Manager
	defer func() { o.cleanup(ref, scratchID, ws) }()

	if job.ArtifactPath == nil {
		return o.failDeploy(ctx, job, fmt.Errorf("job has no stored artifact"))
	}

	if job, err = o.store.Job().UpdateStatus(ctx, jobID, string(api.JobStatusDeploying), nil); err != nil {
		return err
	}
	o.appendEvent(ctx, jobID, model.EventLevelInfo, "deployment started")
	o.emitLifecycle(ctx, job, "")

	if ws, err = workspace.NewManager(o.cfg.WorkspaceRoot, scratchID); err != nil {
		return o.failDeploy(ctx, job, err)
	}

	snap, err := o.secrets.ReadSnapshot(ctx, ref)
	if err != nil {
		return o.failDeploy(ctx, job, fmt.Errorf("credentials expired before processing: %w", err))
	}

	if err := workspace.ExtractArchive(*job.ArtifactPath, ws.Path()); err != nil {
		return o.failDeploy(ctx, job, fmt.Errorf("extracting stored artifact: %w", err))
	}

	deployment, err := o.publishWorkspace(ctx, ws.Path(), job, snap, force)
	if err != nil {
		return o.failDeploy(ctx, job, err)
	}
	if err := o.completePublished(ctx, job, deployment); err != nil {
		return err
	}

	metrics.IncreaseJobsProcessedMetric("deploy", string(api.JobStatusCompleted))
	o.log.Infow("redeploy completed", "job_id", jobID)
	return nil
}

func (o *Orchestrator) assemble(ctx context.Context, ws *workspace.Manager, job *model.Job, payload *api.JobCreate, manifest *api.Manifest) error {
	if err := ws.WriteManifest(manifest); err != nil {
		return err
	}

	staged, err := o.staging.ReadAll(job.ID.String())
	if err != nil {
		return err
	}
	if err := ws.WriteAttachments(staged); err != nil {
		return err
	}

	if err := ws.EnsureReadme(defaultReadme(job, payload)); err != nil {
		return err
	}

	if len(manifest.Commands) > 0 {
		if !o.cfg.AllowManifestCommands {
			o.appendEvent(ctx, job.ID, model.EventLevelWarn,
				fmt.Sprintf("skipping %d manifest commands: command execution disabled", len(manifest.Commands)))
		} else if err := ws.RunCommands(ctx, manifest.Commands); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) packageWorkspace(ctx context.Context, ws *workspace.Manager, job *model.Job) error {
	if err := os.MkdirAll(o.cfg.ArtifactRoot, 0o755); err != nil {
		return err
	}
	artifactPath := filepath.Join(o.cfg.ArtifactRoot, job.ID.String()+".zip")
	if err := ws.Package(artifactPath); err != nil {
		return err
	}
	artifactName := archiveName(job.Title, job.ID)

	now := time.Now()
	updated, err := o.store.Job().UpdateStatus(ctx, job.ID, string(api.JobStatusCompleted), &store.JobUpdate{
		ArtifactPath: &artifactPath,
		ArtifactName: &artifactName,
		CompletedAt:  &now,
	})
	if err != nil {
		return err
	}
	o.appendEvent(ctx, job.ID, model.EventLevelInfo, "site packaged: "+artifactName)
	o.emitLifecycle(ctx, updated, "")
	return nil
}

func (o *Orchestrator) publishWorkspace(ctx context.Context, wsPath string, job *model.Job, snap map[secrets.Kind]secrets.Bundle, force bool) (*publish.DeploymentResult, error) {
	bundle, ok := snap[secrets.KindPublish]
	if !ok {
		return nil, &secrets.MissingCredentialError{Kind: secrets.KindPublish}
	}

	publisher := o.newPublisher(publish.Credentials{
		Token:    bundle["token"],
		Username: bundle["username"],
		Email:    bundle["email"],
		Org:      bundle["org"],
	})

	opts := publish.Options{
		Description: job.Brief,
		Force:       force,
	}
	switch {
	case job.RepoURL != nil:
		opts.ExistingRepo = repoFullNameFromURL(*job.RepoURL)
		opts.Force = true
	case job.RepoOwner != "" && job.RepoName != "":
		opts.ExistingRepo = job.RepoOwner + "/" + job.RepoName
		opts.Force = force
	default:
		opts.RepoName = publish.GenerateRepoName(job.Title)
	}

	return publisher.Deploy(ctx, wsPath, opts)
}

func (o *Orchestrator) completePublished(ctx context.Context, job *model.Job, deployment *publish.DeploymentResult) error {
	now := time.Now()
	updated, err := o.store.Job().UpdateStatus(ctx, job.ID, string(api.JobStatusCompleted), &store.JobUpdate{
		RepoURL:     &deployment.RepoURL,
		PagesURL:    &deployment.PagesURL,
		CommitSHA:   &deployment.CommitSHA,
		CompletedAt: &now,
	})
	if err != nil {
		return err
	}
	o.appendEvent(ctx, job.ID, model.EventLevelInfo, "site published: "+deployment.PagesURL)
	o.emitLifecycle(ctx, updated, "")
	o.emitDeployment(ctx, job.ID, deployment)
	return nil
}

// fail records the failure on the job row and the event log, then returns the
// original error so the queue records the execution as failed too.
func (o *Orchestrator) fail(ctx context.Context, job *model.Job, code string, cause error) error {
	return o.failWithStatus(ctx, job, api.JobStatusFailed, "generate", code, cause)
}

func (o *Orchestrator) failDeploy(ctx context.Context, job *model.Job, cause error) error {
	return o.failWithStatus(ctx, job, api.JobStatusDeployFailed, "deploy", ErrorCodePublishFailed, cause)
}

func (o *Orchestrator) failWithStatus(ctx context.Context, job *model.Job, status api.JobStatus, workflow, code string, cause error) error {
	o.log.Errorw("job failed", "job_id", job.ID, "code", code, "error", cause)

	msg := cause.Error()
	now := time.Now()
	updated, err := o.store.Job().UpdateStatus(ctx, job.ID, string(status), &store.JobUpdate{
		ErrorCode:    &code,
		ErrorMessage: &msg,
		CompletedAt:  &now,
	})
	if err != nil {
		o.log.Errorw("failed to record job failure", "job_id", job.ID, "error", err)
		return cause
	}

	o.appendEvent(ctx, job.ID, model.EventLevelError, msg)
	o.emitLifecycle(ctx, updated, msg)
	metrics.IncreaseJobsProcessedMetric(workflow, string(status))
	return cause
}

// cleanup runs on every exit path. Leftover snapshots, workspaces and staged
// attachments hold secrets or user bytes and must not survive the run. A nil
// ws means the run failed before the workspace existed.
func (o *Orchestrator) cleanup(ref, stagingID string, ws *workspace.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.secrets.ClearSnapshot(ctx, ref); err != nil {
		o.log.Warnw("failed to clear secret snapshot", "ref", ref, "error", err)
	}
	if ws != nil {
		if err := ws.Cleanup(); err != nil {
			o.log.Warnw("failed to clean workspace", "error", err)
		}
	}
	if err := o.staging.Remove(stagingID); err != nil {
		o.log.Warnw("failed to remove staged attachments", "error", err)
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, jobID uuid.UUID, level, message string) {
	if _, err := o.store.Event().Append(ctx, jobID, level, message); err != nil {
		o.log.Warnw("failed to append job event", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) emitLifecycle(ctx context.Context, job *model.Job, errMsg string) {
	if o.sink == nil {
		return
	}
	body, err := json.Marshal(events.JobLifecycleEvent{
		JobID:     job.ID.String(),
		SessionID: job.SessionID,
		Status:    job.Status,
		Provider:  job.Provider,
		Error:     errMsg,
		At:        time.Now(),
	})
	if err != nil {
		return
	}
	if err := o.sink.Write(ctx, events.JobMessageKind, bytes.NewReader(body)); err != nil {
		o.log.Warnw("failed to emit lifecycle event", "job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) emitDeployment(ctx context.Context, jobID uuid.UUID, deployment *publish.DeploymentResult) {
	if o.sink == nil {
		return
	}
	body, err := json.Marshal(events.DeploymentEvent{
		JobID:        jobID.String(),
		RepoFullName: deployment.RepoFullName,
		PagesURL:     deployment.PagesURL,
		CommitSHA:    deployment.CommitSHA,
		At:           time.Now(),
	})
	if err != nil {
		return
	}
	if err := o.sink.Write(ctx, events.DeploymentMessageKind, bytes.NewReader(body)); err != nil {
		o.log.Warnw("failed to emit deployment event", "job_id", jobID, "error", err)
	}
}

var archiveSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func archiveName(title string, id uuid.UUID) string {
	slug := strings.Trim(archiveSlugPattern.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		slug = "site"
	}
	return fmt.Sprintf("%s-%s.zip", slug, id.String()[:8])
}

func defaultReadme(job *model.Job, payload *api.JobCreate) string {
	var attachments strings.Builder
	for _, a := range payload.Attachments {
		fmt.Fprintf(&attachments, "- %s\n", a.Name)
	}
	if attachments.Len() == 0 {
		attachments.WriteString("- None\n")
	}

	return fmt.Sprintf(`# %s

This repository was generated automatically from a written brief.

## Brief
%s

## Attachments Included
%s
## Deployment
The site is a static frontend. Serve the repository root with any static file
server, or push to the linked repository to trigger a new Pages deployment.
`, job.Title, job.Brief, attachments.String())
}

func repoFullNameFromURL(url string) string {
	const prefix = "https://github.com/"
	return strings.TrimSuffix(strings.TrimPrefix(url, prefix), "/")
}
