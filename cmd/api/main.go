package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"itemforge/api/internal/app"
	"itemforge/api/internal/assets"
	"itemforge/api/internal/audit"
	"itemforge/api/internal/authpw"
	"itemforge/api/internal/config"
	"itemforge/api/internal/enhance"
	"itemforge/api/internal/export"
	"itemforge/api/internal/gate"
	"itemforge/api/internal/job"
	"itemforge/api/internal/metrics"
	"itemforge/api/internal/pipeline"
	"itemforge/api/internal/publish"
	"itemforge/api/internal/store"
	"itemforge/api/internal/validator"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.AuditDir, 0o755); err != nil {
		log.Fatalf("failed to create audit dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	auditService := audit.New(cfg.AuditDir, "itemforge")
	obs := metrics.New()

	enhancer, err := enhance.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if err != nil {
		log.Fatalf("enrichment client: %v", err)
	}
	structural := validator.NewClient(cfg.ValidatorURL)

	gates := gate.NewEvaluator(enhancer, structural, enhancer).WithMetrics(obs)
	orchestrator := pipeline.New(dataStore, gates, auditService, cfg.EnrichMaxAttempts)

	var runs job.RunStore
	var claims job.ClaimStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for job registries")
		redisRuns, redisClaims, err := job.NewRedisStores(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisRuns.Close()
		runs, claims = redisRuns, redisClaims
	} else {
		log.Printf("Using in-memory job registries")
		runs = job.NewMemoryRunStore()
		claims = job.NewMemoryClaimStore()
	}
	tracker := job.NewTracker(runs, claims, orchestrator, app.NewScopeResolver(dataStore)).WithMetrics(obs)

	delivery := publish.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	defer delivery.Close()
	differ := publish.NewDiffer(dataStore, delivery)
	executor := publish.NewExecutor(differ, delivery).WithMetrics(obs)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		assetStore, err := assets.NewStore(assets.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Authoring: cfg.AuthoringBucket,
			Delivery:  cfg.DeliveryBucket,
		})
		if err != nil {
			log.Fatalf("object storage client: %v", err)
		}
		executor = executor.WithAssetMirror(assetStore)
	} else {
		log.Printf("Asset mirroring disabled (no object storage endpoint)")
	}

	reports := export.NewService(dataStore)
	passwords := authpw.NewService(dataStore)

	service := app.NewService(dataStore, tracker, syncFacade{differ, executor}, auditService, reports, passwords, cfg.TokenSecret, cfg.AccessTTL)
	if err := service.Bootstrap(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin).WithMetrics(obs)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Itemforge API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// syncFacade bundles the diff engine and executor into the single sync
// dependency the service consumes.
type syncFacade struct {
	differ   *publish.Differ
	executor *publish.Executor
}

func (f syncFacade) Preview(ctx context.Context, testID string, opts publish.Options) ([]publish.Entry, error) {
	return f.differ.Preview(ctx, testID, opts)
}

func (f syncFacade) Execute(ctx context.Context, testID string, opts publish.Options) (*publish.Summary, error) {
	return f.executor.Execute(ctx, testID, opts)
}
