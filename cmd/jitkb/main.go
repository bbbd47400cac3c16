package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/jitkb/internal/config"
	"github.com/xxxsen/jitkb/internal/filestore"
	"github.com/xxxsen/jitkb/internal/handler"
	"github.com/xxxsen/jitkb/internal/job"
	"github.com/xxxsen/jitkb/internal/kb"
	"github.com/xxxsen/jitkb/internal/middleware"
	"github.com/xxxsen/jitkb/internal/reaper"
	"github.com/xxxsen/jitkb/internal/repo"
	"github.com/xxxsen/jitkb/internal/schedule"
	"github.com/xxxsen/jitkb/internal/service"
	"github.com/xxxsen/jitkb/internal/stream"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "jitkb",
		Short: "just-in-time knowledge base controller",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run jitkb server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			db, err := repo.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := repo.ApplyMigrations(db); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, db)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, db *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("kb_provider", cfg.KB.Provider),
		zap.String("file_store", cfg.FileStore.Type),
		zap.Int("tenants", len(cfg.Tenants)),
	)

	projectRepo := repo.NewProjectRepo(db)
	projectFileRepo := repo.NewProjectFileRepo(db)
	trackedRepo := repo.NewTrackedFileRepo(db)
	historyRepo := repo.NewChatHistoryRepo(db)
	deadLetterRepo := repo.NewDeadLetterRepo(db)

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	knowledge, err := newKnowledgeBase(cfg, db, store)
	if err != nil {
		return fmt.Errorf("init kb provider: %w", err)
	}
	knowledge = kb.WrapRetry(knowledge, kb.DefaultRetryConfig())

	sink := reaper.NewDeadLetterSink(deadLetterRepo)
	broker := stream.NewBroker(stream.BrokerConfig{
		BufferSize:  cfg.Stream.BufferSize,
		MaxAttempts: cfg.Stream.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Stream.RetryDelayMS) * time.Millisecond,
	}, sink)
	reaper.New(trackedRepo, knowledge).Attach(broker)

	ingestService := service.NewIngestService(trackedRepo, projectFileRepo, knowledge, store, cfg, broker)
	statusService := service.NewStatusService(trackedRepo, ingestService, knowledge, cfg, broker)
	touchService := service.NewTouchService(trackedRepo, cfg, broker)
	queryService := service.NewQueryService(knowledge, projectFileRepo, historyRepo, touchService)
	projectService := service.NewProjectService(projectRepo, projectFileRepo, trackedRepo, historyRepo, knowledge, store, cfg, broker)

	scheduler := schedule.NewCronScheduler()
	batch := uint(cfg.Schedule.SweepBatchSize)
	if err := scheduler.AddJob(job.NewTTLSweepJob(trackedRepo, broker, batch), cfg.Schedule.TTLSweepSpec); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewIngestTimeoutSweepJob(trackedRepo, cfg, batch), cfg.Schedule.IngestTimeoutSpec); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewDeadLetterRetryJob(deadLetterRepo, broker, batch), cfg.Schedule.DeadLetterRetrySpec); err != nil {
		return err
	}

	deps := handler.RouterDeps{
		Projects:  handler.NewProjectHandler(projectService),
		KB:        handler.NewKBHandler(statusService, queryService, touchService),
		JWTSecret: []byte(cfg.JWTSecret),
		QueryLimits: func(tenantID string) int {
			tenant, ok := cfg.FindTenant(tenantID)
			if !ok {
				return 0
			}
			return tenant.MaxQueryPerMinute
		},
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(nil),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker.Start(ctx)
	scheduler.Start(ctx)
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	scheduler.Stop()
	broker.Close()
	return nil
}

// newKnowledgeBase builds the configured provider. The local provider
// additionally needs the db handle and a way to read document content.
func newKnowledgeBase(cfg *config.Config, db *sql.DB, store filestore.Store) (kb.Service, error) {
	if cfg.KB.Provider == "local" {
		return kb.NewService("local", &kb.LocalArgs{
			DB:      db,
			Fetcher: store,
			Config:  cfg.KB.Data,
		})
	}
	return kb.NewService(cfg.KB.Provider, cfg.KB.Data)
}
