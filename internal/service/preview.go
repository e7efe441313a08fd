package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/statichq/sitesmith/api/v1alpha1"
	"github.com/statichq/sitesmith/internal/config"
	"github.com/statichq/sitesmith/internal/preview"
	"github.com/statichq/sitesmith/pkg/metrics"
)

type PreviewService struct {
	jobs    *JobService
	manager *preview.Manager
	cfg     *config.Config
	log     *zap.SugaredLogger
}

func NewPreviewService(jobs *JobService, manager *preview.Manager, cfg *config.Config) *PreviewService {
	return &PreviewService{
		jobs:    jobs,
		manager: manager,
		cfg:     cfg,
		log:     zap.S().Named("preview_service"),
	}
}

// Create extracts the job's artifact into a fresh preview instance. The
// per-session cap is checked after reaping so expired instances never block
// new ones.
func (s *PreviewService) Create(ctx context.Context, sessionID string, jobID uuid.UUID) (*api.Preview, error) {
	job, err := s.jobs.ownedJob(ctx, sessionID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != string(api.JobStatusCompleted) || job.ArtifactPath == nil {
		return nil, NewErrArtifactNotAvailable(jobID)
	}

	live := s.manager.ReapExpired()
	metrics.UpdateLivePreviewsMetric(live)
	if count := s.manager.CountLive(sessionID); count >= s.cfg.Service.PreviewsPerSession {
		return nil, NewErrTooManyPreviews(count, s.cfg.Service.PreviewsPerSession)
	}

	ttl := time.Duration(s.cfg.Service.PreviewTTLSeconds) * time.Second
	token, expiresAt, err := s.manager.Create(jobID.String(), sessionID, *job.ArtifactPath, ttl)
	if err != nil {
		var notStatic *preview.NotStaticSiteError
		if errors.As(err, &notStatic) {
			return nil, NewErrNotStaticSite(jobID)
		}
		return nil, err
	}

	metrics.UpdateLivePreviewsMetric(s.manager.ReapExpired())
	s.log.Infow("preview created", "job_id", jobID, "session_id", sessionID, "expires_at", expiresAt)

	return &api.Preview{
		Token:     token,
		URL:       fmt.Sprintf("%s/preview/%s/", s.cfg.Service.BaseURL, token),
		ExpiresAt: expiresAt,
	}, nil
}

// Serve resolves an asset inside a live preview. Integrity failures (bad
// token shape, escaping paths) and expired instances both surface as
// not-available.
func (s *PreviewService) Serve(token, relPath string) (string, error) {
	path, err := s.manager.ServeAsset(token, relPath)
	if err != nil {
		var invalid *preview.InvalidTokenError
		switch {
		case errors.As(err, &invalid),
			errors.Is(err, preview.ErrNotFound),
			errors.Is(err, preview.ErrAssetNotFound):
			return "", NewErrPreviewNotAvailable()
		}
		return "", err
	}
	return path, nil
}
