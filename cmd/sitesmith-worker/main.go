package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statichq/sitesmith/internal/config"
	"github.com/statichq/sitesmith/internal/events"
	"github.com/statichq/sitesmith/internal/jobs"
	"github.com/statichq/sitesmith/internal/orchestrator"
	"github.com/statichq/sitesmith/internal/secrets"
	"github.com/statichq/sitesmith/internal/store"
	"github.com/statichq/sitesmith/internal/workspace"
	"github.com/statichq/sitesmith/pkg/log"
)

var rootCmd = &cobra.Command{
	Use:   "sitesmith-worker",
	Short: "Run the sitesmith job worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}

		logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting worker")
		defer zap.S().Info("Worker stopped")

		db, err := store.InitDB(cfg)
		if err != nil {
			return fmt.Errorf("initializing data store: %w", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}

		producer, err := newEventProducer(cfg)
		if err != nil {
			return fmt.Errorf("initializing event producer: %w", err)
		}
		defer func() { _ = producer.Close() }()

		secretStore := secrets.NewStore(rdb,
			time.Duration(cfg.Service.SessionTTLSeconds)*time.Second,
			time.Duration(cfg.Service.SnapshotTTLSeconds)*time.Second,
		)

		orch := orchestrator.New(
			s,
			secretStore,
			workspace.NewStaging(cfg.Service.AttachmentRoot),
			orchestrator.Config{
				WorkspaceRoot:         cfg.Service.WorkspaceRoot,
				ArtifactRoot:          cfg.Service.ArtifactRoot,
				RequestTimeout:        time.Duration(cfg.Service.RequestTimeoutSeconds) * time.Second,
				GenerationMaxRetries:  cfg.Service.GenerationMaxRetries,
				AllowManifestCommands: cfg.Service.AllowManifestCommands,
				PublishDefaultBranch:  cfg.Service.PublishDefaultBranch,
			},
			orchestrator.WithEventSink(producer),
		)

		dsn := fmt.Sprintf("host=%s user=%s password=%s port=%s dbname=%s",
			cfg.Database.Hostname,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Port,
			cfg.Database.Name,
		)

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return fmt.Errorf("failed to parse pgx config: %w", err)
		}
		poolCfg.MaxConns = 20
		poolCfg.MinConns = 5
		poolCfg.MaxConnLifetime = time.Hour
		poolCfg.MaxConnIdleTime = 30 * time.Minute

		dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create pgx pool: %w", err)
		}
		defer dbPool.Close()

		client, err := jobs.NewClient(ctx, dbPool, orch)
		if err != nil {
			return fmt.Errorf("failed to create queue client: %w", err)
		}

		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("failed to start queue client: %w", err)
		}

		zap.S().Info("Worker consuming jobs")
		<-ctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := client.Stop(stopCtx); err != nil {
			zap.S().Warnw("failed to stop queue client", "error", err)
		}

		return nil
	},
}

func newEventProducer(cfg *config.Config) (*events.EventProducer, error) {
	var opts []events.ProducerOptions
	if cfg.Service.Kafka.Topic != "" {
		opts = append(opts, events.WithOutputTopic(cfg.Service.Kafka.Topic))
	}

	if len(cfg.Service.Kafka.Brokers) > 0 {
		writer, err := events.NewKafkaWriter(cfg.Service.Kafka.Brokers, cfg.Service.Kafka.ClientID)
		if err != nil {
			return nil, err
		}
		return events.NewEventProducer(writer, opts...), nil
	}

	return events.NewEventProducer(&events.StdoutWriter{}, opts...), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
