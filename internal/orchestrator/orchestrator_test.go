package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	api "github.com/statichq/sitesmith/api/v1alpha1"
	"github.com/statichq/sitesmith/internal/generation"
	"github.com/statichq/sitesmith/internal/publish"
	"github.com/statichq/sitesmith/internal/secrets"
	"github.com/statichq/sitesmith/internal/store"
	"github.com/statichq/sitesmith/internal/store/model"
	"github.com/statichq/sitesmith/internal/workspace"
)

type fakeSecrets struct {
	snapshots map[string]map[secrets.Kind]secrets.Bundle
	cleared   []string
}

func (f *fakeSecrets) ReadSnapshot(_ context.Context, ref string) (map[secrets.Kind]secrets.Bundle, error) {
	snap, ok := f.snapshots[ref]
	if !ok {
		return nil, &secrets.SnapshotNotFoundError{Ref: ref}
	}
	return snap, nil
}

func (f *fakeSecrets) ClearSnapshot(_ context.Context, ref string) error {
	f.cleared = append(f.cleared, ref)
	delete(f.snapshots, ref)
	return nil
}

type fakeProvider struct {
	manifest *api.Manifest
	err      error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GenerateManifest(context.Context, string, []api.Attachment) (*api.Manifest, error) {
	return f.manifest, f.err
}

type fakePublisher struct {
	result    *publish.DeploymentResult
	err       error
	workspace string
	opts      publish.Options
	calls     int
}

func (f *fakePublisher) Deploy(_ context.Context, ws string, opts publish.Options) (*publish.DeploymentResult, error) {
	f.calls++
	f.workspace = ws
	f.opts = opts
	return f.result, f.err
}

type harness struct {
	orch      *Orchestrator
	store     store.Store
	secrets   *fakeSecrets
	provider  *fakeProvider
	publisher *fakePublisher
	staging   *workspace.Staging
	cfg       Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "orchestrator_test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	s := store.NewStore(db)
	require.NoError(t, s.InitialMigration())
	t.Cleanup(func() { _ = s.Close() })

	root := t.TempDir()
	cfg := Config{
		WorkspaceRoot:        filepath.Join(root, "workspaces"),
		ArtifactRoot:         filepath.Join(root, "artifacts"),
		RequestTimeout:       time.Second,
		GenerationMaxRetries: 1,
		PublishDefaultBranch: "main",
	}

	sec := &fakeSecrets{snapshots: map[string]map[secrets.Kind]secrets.Bundle{}}
	provider := &fakeProvider{manifest: &api.Manifest{
		Files: []api.ManifestFile{{Path: "index.html", Content: "<html></html>"}},
	}}
	publisher := &fakePublisher{result: &publish.DeploymentResult{
		RepoFullName: "alice/demo-site",
		RepoURL:      "https://github.com/alice/demo-site",
		PagesURL:     "https://alice.github.io/demo-site/",
		CommitSHA:    "abc123",
	}}

	staging := workspace.NewStaging(filepath.Join(root, "attachments"))
	orch := New(s, sec, staging, cfg,
		WithProviderFactory(func(generation.Config) (generation.Provider, error) { return provider, nil }),
		WithPublisherFactory(func(publish.Credentials) Publisher { return publisher }),
	)

	return &harness{orch: orch, store: s, secrets: sec, provider: provider, publisher: publisher, staging: staging, cfg: cfg}
}

func (h *harness) createJob(t *testing.T, deliveryMode string) *model.Job {
	t.Helper()

	create := api.JobCreate{
		Title:        "Demo Site",
		Brief:        "build a demo site",
		Provider:     "openai",
		DeliveryMode: api.DeliveryMode(deliveryMode),
	}
	payload, err := json.Marshal(create)
	require.NoError(t, err)

	job, err := h.store.Job().Create(context.Background(), &model.Job{
		ID:           uuid.New(),
		SessionID:    "sess-1",
		Title:        create.Title,
		Brief:        create.Brief,
		Payload:      payload,
		Status:       string(api.JobStatusQueued),
		Provider:     "openai",
		Model:        "gpt-5",
		DeliveryMode: deliveryMode,
	})
	require.NoError(t, err)
	return job
}

func (h *harness) armSnapshot(ref string, kinds ...secrets.Kind) {
	snap := map[secrets.Kind]secrets.Bundle{}
	for _, k := range kinds {
		switch k {
		case secrets.KindLLM:
			snap[k] = secrets.Bundle{"api_key": "llm-key"}
		case secrets.KindPublish:
			snap[k] = secrets.Bundle{"token": "gh-token", "username": "alice", "email": "alice@example.com"}
		}
	}
	h.secrets.snapshots[ref] = snap
}

func TestRunGeneratePackagesTheSite(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePackage))
	h.armSnapshot(SnapshotRef(job.ID), secrets.KindLLM)
	require.NoError(t, h.staging.Write(job.ID.String(), "logo.png", []byte{1, 2, 3}))

	require.NoError(t, h.orch.RunGenerate(context.Background(), job.ID))

	updated, err := h.store.Job().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(api.JobStatusCompleted), updated.Status)
	require.NotNil(t, updated.ArtifactPath)
	require.NotNil(t, updated.ArtifactName)
	assert.Equal(t, fmt.Sprintf("demo-site-%s.zip", job.ID.String()[:8]), *updated.ArtifactName)
	assert.NotNil(t, updated.StartedAt)
	assert.NotNil(t, updated.CompletedAt)

	// the archive exists and contains the manifest plus the staged attachment
	dest := t.TempDir()
	require.NoError(t, workspace.ExtractArchive(*updated.ArtifactPath, dest))
	assert.FileExists(t, filepath.Join(dest, "index.html"))
	assert.FileExists(t, filepath.Join(dest, "logo.png"))
	assert.FileExists(t, filepath.Join(dest, "README.md"))

	events, err := h.store.Event().List(context.Background(), job.ID, 0, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(events), 3)
}

func TestRunGenerateCleansUpScratchState(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePackage))
	h.armSnapshot(SnapshotRef(job.ID), secrets.KindLLM)
	require.NoError(t, h.staging.Write(job.ID.String(), "logo.png", []byte{1}))

	require.NoError(t, h.orch.RunGenerate(context.Background(), job.ID))

	assert.Equal(t, []string{SnapshotRef(job.ID)}, h.secrets.cleared)
	assert.NoDirExists(t, filepath.Join(h.cfg.WorkspaceRoot, job.ID.String()))
	staged, err := h.staging.ReadAll(job.ID.String())
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestRunGeneratePublishesTheSite(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePublish))
	h.armSnapshot(SnapshotRef(job.ID), secrets.KindLLM, secrets.KindPublish)

	require.NoError(t, h.orch.RunGenerate(context.Background(), job.ID))

	updated, err := h.store.Job().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(api.JobStatusCompleted), updated.Status)
	require.NotNil(t, updated.RepoURL)
	assert.Equal(t, "https://github.com/alice/demo-site", *updated.RepoURL)
	require.NotNil(t, updated.PagesURL)
	require.NotNil(t, updated.CommitSHA)

	assert.Equal(t, 1, h.publisher.calls)
	assert.Regexp(t, `^demo-site-[0-9a-f]{6}$`, h.publisher.opts.RepoName)
}

func TestRunGenerateMissingSnapshotFailsJob(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePackage))

	err := h.orch.RunGenerate(context.Background(), job.ID)
	require.Error(t, err)

	updated, gerr := h.store.Job().Get(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Equal(t, string(api.JobStatusFailed), updated.Status)
	require.NotNil(t, updated.ErrorCode)
	assert.Equal(t, ErrorCodeCredentialsExpired, *updated.ErrorCode)
	require.NotNil(t, updated.ErrorMessage)
	assert.Contains(t, *updated.ErrorMessage, "credentials expired")
}

func TestRunGenerateProviderFailureFailsJobAndCleansUp(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePackage))
	h.armSnapshot(SnapshotRef(job.ID), secrets.KindLLM)
	h.provider.manifest = nil
	h.provider.err = fmt.Errorf("model melted down")

	err := h.orch.RunGenerate(context.Background(), job.ID)
	require.Error(t, err)

	updated, gerr := h.store.Job().Get(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Equal(t, string(api.JobStatusFailed), updated.Status)
	require.NotNil(t, updated.ErrorCode)
	assert.Equal(t, ErrorCodeGenerationFailed, *updated.ErrorCode)

	// cleanup ran on the failure path too
	assert.Equal(t, []string{SnapshotRef(job.ID)}, h.secrets.cleared)
	assert.NoDirExists(t, filepath.Join(h.cfg.WorkspaceRoot, job.ID.String()))

	events, eerr := h.store.Event().List(context.Background(), job.ID, 0, 0)
	require.NoError(t, eerr)
	var sawError bool
	for _, e := range events {
		if e.Level == model.EventLevelError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRunGenerateUndecodablePayloadStillCleansUp(t *testing.T) {
	h := newHarness(t)
	job, err := h.store.Job().Create(context.Background(), &model.Job{
		ID:        uuid.New(),
		SessionID: "sess-1",
		Title:     "Demo Site",
		Brief:     "build a demo site",
		Payload:   []byte("{not json"),
		Status:    string(api.JobStatusQueued),
	})
	require.NoError(t, err)
	h.armSnapshot(SnapshotRef(job.ID), secrets.KindLLM)
	require.NoError(t, h.staging.Write(job.ID.String(), "logo.png", []byte{1}))

	require.Error(t, h.orch.RunGenerate(context.Background(), job.ID))

	// scratch state is released even when the run dies before the workspace exists
	assert.Equal(t, []string{SnapshotRef(job.ID)}, h.secrets.cleared)
	staged, err := h.staging.ReadAll(job.ID.String())
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestRunGenerateMissingLLMBundleFailsJob(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePackage))
	h.secrets.snapshots[SnapshotRef(job.ID)] = map[secrets.Kind]secrets.Bundle{}

	err := h.orch.RunGenerate(context.Background(), job.ID)
	require.Error(t, err)

	updated, gerr := h.store.Job().Get(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Equal(t, string(api.JobStatusFailed), updated.Status)
	require.NotNil(t, updated.ErrorCode)
	assert.Equal(t, ErrorCodeCredentialsExpired, *updated.ErrorCode)
	assert.Equal(t, 0, h.publisher.calls)
	assert.Equal(t, []string{SnapshotRef(job.ID)}, h.secrets.cleared)
}

func TestRunGenerateUnknownJobIsNotRetried(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.orch.RunGenerate(context.Background(), uuid.New()))
}

func TestRunDeployPublishesStoredArtifact(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePackage))

	// a completed job with a stored artifact
	siteDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(siteDir, "index.html"), []byte("<html></html>"), 0o644))
	artifactPath := filepath.Join(t.TempDir(), "site.zip")
	require.NoError(t, workspace.BuildArchive(siteDir, artifactPath))

	_, err := h.store.Job().UpdateStatus(context.Background(), job.ID, string(api.JobStatusCompleted), &store.JobUpdate{
		ArtifactPath: &artifactPath,
	})
	require.NoError(t, err)

	h.armSnapshot(DeploySnapshotRef(job.ID), secrets.KindPublish)

	require.NoError(t, h.orch.RunDeploy(context.Background(), job.ID, false))

	updated, err := h.store.Job().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(api.JobStatusCompleted), updated.Status)
	require.NotNil(t, updated.RepoURL)

	// the extracted artifact was handed to the publisher
	assert.FileExists(t, filepath.Join(h.publisher.workspace, "index.html"))
	assert.Equal(t, []string{DeploySnapshotRef(job.ID)}, h.secrets.cleared)
	assert.NoDirExists(t, h.publisher.workspace)
}

func TestRunDeployWithoutArtifactFails(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePackage))
	h.armSnapshot(DeploySnapshotRef(job.ID), secrets.KindPublish)

	err := h.orch.RunDeploy(context.Background(), job.ID, false)
	require.Error(t, err)

	updated, gerr := h.store.Job().Get(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Equal(t, string(api.JobStatusDeployFailed), updated.Status)

	// the deploy snapshot does not outlive a run that never built a workspace
	assert.Equal(t, []string{DeploySnapshotRef(job.ID)}, h.secrets.cleared)
}

func TestRunDeployPublishFailureMarksDeployFailed(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, string(api.DeliveryModePackage))

	siteDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(siteDir, "index.html"), []byte("x"), 0o644))
	artifactPath := filepath.Join(t.TempDir(), "site.zip")
	require.NoError(t, workspace.BuildArchive(siteDir, artifactPath))
	_, err := h.store.Job().UpdateStatus(context.Background(), job.ID, string(api.JobStatusCompleted), &store.JobUpdate{
		ArtifactPath: &artifactPath,
	})
	require.NoError(t, err)

	h.armSnapshot(DeploySnapshotRef(job.ID), secrets.KindPublish)
	h.publisher.result = nil
	h.publisher.err = fmt.Errorf("push rejected")

	err = h.orch.RunDeploy(context.Background(), job.ID, true)
	require.Error(t, err)

	updated, gerr := h.store.Job().Get(context.Background(), job.ID)
	require.NoError(t, gerr)
	assert.Equal(t, string(api.JobStatusDeployFailed), updated.Status)
	require.NotNil(t, updated.ErrorMessage)
	assert.Contains(t, *updated.ErrorMessage, "push rejected")
}
