package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nlquery/nlquery/internal/api"
	"github.com/nlquery/nlquery/internal/api/uistatic"
	"github.com/nlquery/nlquery/internal/config"
	"github.com/nlquery/nlquery/internal/database"
	"github.com/nlquery/nlquery/internal/export"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/observability"
	"github.com/nlquery/nlquery/internal/pipeline"
	"github.com/nlquery/nlquery/internal/prompt"
	"github.com/nlquery/nlquery/internal/query/sqldb"
	"github.com/nlquery/nlquery/internal/schema"
	s3store "github.com/nlquery/nlquery/internal/storage/s3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv("nlquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, dialect, err := database.Open(context.Background(), database.DBConfig{
		URI:             cfg.Database.URI,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	template := prompt.Default()
	if cfg.Prompt.TemplatePath != "" {
		template, err = prompt.LoadFile(cfg.Prompt.TemplatePath)
		if err != nil {
			logger.Error("failed to load prompt template", slog.Any("error", err))
			os.Exit(1)
		}
	}
	logger = observability.WithAnswerSource(logger, string(dialect), template.Version())
	logger.Info("prompt template loaded", slog.String("source", template.Source()))

	translator, err := nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
		Endpoint:    cfg.AI.Endpoint,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}

	introspector := schema.NewIntrospector(db, dialect)
	questions := &pipeline.Pipeline{
		Schema:     introspector,
		Template:   template,
		Translator: nl2sql.WithRetries(translator, cfg.AI.MaxAttempts, cfg.AI.RetryBackoff),
		Executor: sqldb.NewExecutor(db, dialect, sqldb.Options{
			RowLimit:         cfg.Query.RowLimit,
			StatementTimeout: cfg.Query.StatementTimeout,
		}),
		Logger: logger,
	}

	deps := api.Dependencies{
		Logger:   logger,
		Pipeline: questions,
		Schema:   introspector,
		UI:       uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(db),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Export.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = export.NewExporter(objectStore)
		deps.Exports = objectStore
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dialect", string(dialect)),
			slog.String("model", translator.Model()),
			slog.Bool("export_enabled", cfg.Export.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
