package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/animagenius/animagenius-api/pkg/config"
	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/handlers"
	"github.com/animagenius/animagenius-api/pkg/idempotency"
	"github.com/animagenius/animagenius-api/pkg/jobs"
	"github.com/animagenius/animagenius-api/pkg/llm"
	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/animagenius/animagenius-api/pkg/storage"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the extraction workers",
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending database migrations before serving")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting AnimaGenius API...")

	if err := db.InitDB(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.CloseDB()

	if migrateOnStart {
		if err := db.ApplyMigrations(ctx, db.DB); err != nil {
			return err
		}
	}

	plans, err := services.LoadPlanCatalog()
	if err != nil {
		return err
	}

	var (
		events      services.EventClaimer
		redisHealth handlers.Pinger
	)
	if cfg.RedisURL != "" {
		redisStore, err := idempotency.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Warnf("Redis unavailable, webhook deduplication disabled: %v", err)
		} else {
			defer redisStore.Close()
			events, redisHealth = redisStore, redisStore
		}
	} else {
		log.Warn("REDIS_URL not set, webhook deduplication disabled")
	}

	llmClient, err := newLLMClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer llmClient.Close()

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	ai := services.NewAIService(llmClient, services.DefaultRenderers(cfg.PublicStorageURL, cfg.RenderDelayFactor))
	paypal, err := services.NewPayPalService(cfg, plans, events)
	if err != nil {
		return err
	}

	jwtService := services.NewJWTService(cfg.JwtSecret)
	apiHandlers := handlers.NewHandlers(cfg, jwtService, plans, ai, paypal, store, redisHealth)
	router := handlers.NewRouter(apiHandlers)

	worker := jobs.NewWorker(jobs.PostgresQueue{}, store, ai, cfg.JobWorkers, cfg.JobPollInterval)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil {
			log.Errorf("Extraction worker stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stop()
		<-workerDone
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	<-workerDone

	log.Info("Server exited gracefully.")
	return nil
}

func newLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch cfg.AIProvider {
	case config.AIProviderGemini:
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("initialize gemini client: %w", err)
		}
		log.Info("Using Gemini for content processing")
		return client, nil
	default:
		log.Infof("Using OpenRouter endpoint %s for content processing", cfg.AIEndpoint)
		return llm.NewOpenRouterClient(cfg.AIEndpoint, cfg.AIAPIKey, cfg.AICustomerID), nil
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.S3Endpoint == "" {
		log.Infof("S3_ENDPOINT not set, storing uploads in %s", cfg.LocalStorageDir)
		return storage.NewLocalStore(cfg.LocalStorageDir, cfg.PublicStorageURL)
	}

	store, err := storage.NewMinioStore(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL, "")
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	log.Infof("Storing uploads in bucket %s at %s", cfg.S3Bucket, cfg.S3Endpoint)
	return store, nil
}
