package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/statichq/sitesmith/internal/config"
	handlers "github.com/statichq/sitesmith/internal/handlers/v1alpha1"
	"github.com/statichq/sitesmith/internal/jobs"
	"github.com/statichq/sitesmith/internal/preview"
	"github.com/statichq/sitesmith/internal/publish"
	"github.com/statichq/sitesmith/internal/ratelimit"
	"github.com/statichq/sitesmith/internal/secrets"
	"github.com/statichq/sitesmith/internal/service"
	"github.com/statichq/sitesmith/internal/store"
	"github.com/statichq/sitesmith/internal/workspace"
	"github.com/statichq/sitesmith/pkg/metrics"
	"github.com/statichq/sitesmith/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
}

// New returns a new instance of the sitesmith API server.
func New(cfg *config.Config, store store.Store, listener net.Listener) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		listener: listener,
	}
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     s.cfg.Redis.Address,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}

	// Parse config to safely handle special characters in credentials
	dsn := fmt.Sprintf("host=%s user=%s password=%s port=%s dbname=%s",
		s.cfg.Database.Hostname,
		s.cfg.Database.User,
		s.cfg.Database.Password,
		s.cfg.Database.Port,
		s.cfg.Database.Name,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse pgx config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer dbPool.Close()

	// Insert-only client. The worker binary runs the consuming side.
	queue, err := jobs.NewClient(ctx, dbPool, nil)
	if err != nil {
		return fmt.Errorf("failed to create queue client: %w", err)
	}

	secretStore := secrets.NewStore(rdb,
		time.Duration(s.cfg.Service.SessionTTLSeconds)*time.Second,
		time.Duration(s.cfg.Service.SnapshotTTLSeconds)*time.Second,
	)

	staging := workspace.NewStaging(s.cfg.Service.AttachmentRoot)

	previewManager, err := preview.NewManager(s.cfg.Service.PreviewRoot)
	if err != nil {
		return fmt.Errorf("failed to initialize preview root: %w", err)
	}

	jobService := service.NewJobService(s.store, secretStore, ratelimit.NewLimiter(rdb), queue, staging, s.cfg)

	var oauth service.OAuthExchanger
	oauthCfg := publish.OAuthConfig{
		ClientID:     s.cfg.Service.GitHub.ClientID,
		ClientSecret: s.cfg.Service.GitHub.ClientSecret,
		RedirectURL:  s.cfg.Service.GitHub.RedirectURL,
		Scope:        s.cfg.Service.GitHub.Scope,
	}
	if oauthCfg.Configured() {
		oauth = publish.NewOAuthClient(oauthCfg, time.Duration(s.cfg.Service.RequestTimeoutSeconds)*time.Second)
	}

	h := handlers.NewHandler(
		service.NewSessionService(secretStore, oauth),
		jobService,
		service.NewPreviewService(jobService, previewManager, s.cfg),
	)
	h.Routes(router)

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
