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

	"github.com/xxxsen/docquery/internal/ai"
	"github.com/xxxsen/docquery/internal/chunker"
	"github.com/xxxsen/docquery/internal/config"
	"github.com/xxxsen/docquery/internal/db"
	"github.com/xxxsen/docquery/internal/embedcache"
	"github.com/xxxsen/docquery/internal/extract"
	"github.com/xxxsen/docquery/internal/handler"
	"github.com/xxxsen/docquery/internal/job"
	"github.com/xxxsen/docquery/internal/middleware"
	"github.com/xxxsen/docquery/internal/repo"
	"github.com/xxxsen/docquery/internal/schedule"
	"github.com/xxxsen/docquery/internal/service"
	"github.com/xxxsen/docquery/internal/vecindex"
)

const (
	documentRetryStaleSeconds = 300
	documentRetryBatch        = 20
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docquery",
		Short: "docquery retrieval server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run docquery server",
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

			database, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, database *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("vector_index", cfg.VectorIndex.Type),
		zap.Int("embed_providers", len(cfg.AI.Embed)),
		zap.Int("generate_providers", len(cfg.AI.Generate)),
	)

	projectRepo := repo.NewProjectRepo(database)
	docRepo := repo.NewDocumentRepo(database)
	passageRepo := repo.NewPassageRepo(database)
	queryRepo := repo.NewQueryRepo(database)
	embedCacheRepo := repo.NewEmbeddingCacheRepo(database)

	index, err := vecindex.New(cfg.VectorIndex)
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}

	embedder, err := buildEmbedder(cfg, embedCacheRepo)
	if err != nil {
		return fmt.Errorf("init embedder: %w", err)
	}
	generators, defaultModel, err := buildGenerators(cfg)
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}

	vectorizer := service.NewVectorizer(embedder, index)
	ingestService := service.NewIngestService(
		passageRepo,
		chunker.NewChunker(cfg.Chunking.TargetSize, cfg.Chunking.Overlap),
		vectorizer,
	)
	documentService := service.NewDocumentService(projectRepo, docRepo, passageRepo, ingestService)
	projectService := service.NewProjectService(projectRepo, docRepo, passageRepo, queryRepo, ingestService)
	queryService := service.NewQueryService(projectRepo, passageRepo, queryRepo, vectorizer, generators, service.QueryServiceConfig{
		TopK:           cfg.Query.TopK,
		ScoreThreshold: cfg.Query.ScoreThreshold,
		DefaultModel:   defaultModel,
		Timeout:        cfg.AI.Timeout,
		CacheSize:      cfg.Query.AnswerCacheSize,
		CacheTTL:       time.Duration(cfg.Query.AnswerCacheTTLSec) * time.Second,
	})

	deps := handler.RouterDeps{
		Projects:  handler.NewProjectHandler(projectService),
		Documents: handler.NewDocumentHandler(documentService, cfg.MaxUploadSize),
		Queries:   handler.NewQueryHandler(queryService),
		Health:    handler.NewHealthHandler(database),
		Properties: handler.NewPropertiesHandler(handler.InstanceProperties{
			MaxUploadSize:       cfg.MaxUploadSize,
			SupportedExtensions: extract.SupportedExtensions(),
			VectorIndex:         cfg.VectorIndex.Type,
			EmbedModels:         providerModels(cfg.AI.Embed),
			GenerateModels:      providerModels(cfg.AI.Generate),
		}),
		WriteRateLimit: time.Duration(cfg.Query.RateLimitMS) * time.Millisecond,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(
		job.NewDocumentProcessJob(docRepo, documentService, documentRetryStaleSeconds, documentRetryBatch),
		cfg.Jobs.DocumentProcessCron,
	); err != nil {
		return fmt.Errorf("schedule document process job: %w", err)
	}
	if cfg.EmbedCache.EnableDB {
		if err := scheduler.AddJob(
			job.NewEmbeddingCacheCleanupJob(embedCacheRepo, cfg.EmbedCache.DBTTLDays),
			cfg.Jobs.CacheCleanupCron,
		); err != nil {
			return fmt.Errorf("schedule cache cleanup job: %w", err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func providerModels(providers []config.AIProviderConfig) []string {
	models := make([]string, 0, len(providers))
	for _, pc := range providers {
		models = append(models, pc.Model)
	}
	return models
}

// buildEmbedder assembles the embed failover chain. Each provider gets its
// own cache wrappers so cache entries stay keyed by the model that produced
// them.
func buildEmbedder(cfg *config.Config, cacheRepo *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.AI.Embed))
	for _, pc := range cfg.AI.Embed {
		provider, err := ai.NewEmbedProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("embed provider %s: %w", pc.Provider, err)
		}
		embedder := ai.NewEmbedder(provider, pc.Model)
		if cfg.EmbedCache.EnableDB {
			embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
		}
		embedder = embedcache.WrapLruCacheToEmbedder(
			embedder,
			cfg.EmbedCache.LRUSize,
			time.Duration(cfg.EmbedCache.LRUTTLSec)*time.Second,
		)
		entries = append(entries, ai.EmbedderEntry{Name: pc.Model, Embedder: embedder})
	}
	embedder := ai.NewGroupEmbedder(entries)
	if embedder == nil {
		return nil, fmt.Errorf("no embed provider configured")
	}
	return embedder, nil
}

// buildGenerators creates one named generator per configured provider. The
// first entry's model is the default. An empty list is allowed, queries then
// come back degraded with citations only.
func buildGenerators(cfg *config.Config) ([]ai.GeneratorEntry, string, error) {
	entries := make([]ai.GeneratorEntry, 0, len(cfg.AI.Generate))
	for _, pc := range cfg.AI.Generate {
		provider, err := ai.NewProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, "", fmt.Errorf("generate provider %s: %w", pc.Provider, err)
		}
		entries = append(entries, ai.GeneratorEntry{Name: pc.Model, Generator: ai.NewGenerator(provider, pc.Model)})
	}
	defaultModel := ""
	if len(entries) > 0 {
		defaultModel = entries[0].Name
	}
	return entries, defaultModel, nil
}
