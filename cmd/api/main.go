package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/adapter/repo"
	"studio/internal/credentials"
	"studio/internal/gateway"
	"studio/internal/generation"
	httpapi "studio/internal/http"
	"studio/internal/http/handlers"
	"studio/internal/infra"
	"studio/internal/infra/geoip"
	"studio/internal/middleware"
	"studio/internal/pipeline"
	"studio/internal/providers/qwen"
	"studio/internal/providers/replicate"
	"studio/internal/retry"
	"studio/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	sqlRunner := infra.NewSQLRunner(dbpool, logger)

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	cipher, err := credentials.NewCipher(cfg.CredentialKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid credential key")
	}
	pool := credentials.NewPool(sqlRunner, cipher)

	jobs := repo.NewJobRepo(sqlRunner)
	versions := repo.NewVersionRepo(sqlRunner)
	sessions := repo.NewSessionRepo(sqlRunner)
	assets := repo.NewAssetRepo(sqlRunner)

	qwenClient := qwen.NewClient(qwen.Options{
		BaseURL:        cfg.QwenBaseURL,
		Model:          cfg.QwenModel,
		RequestTimeout: cfg.ProviderTimeout,
	})
	replicateClient := replicate.NewClient(replicate.Options{
		BaseURL:        cfg.ReplicateBaseURL,
		Model:          cfg.ReplicateModel,
		RequestTimeout: cfg.ProviderTimeout,
	})
	providers := generation.Registry{
		qwenClient.Name():      qwenClient,
		replicateClient.Name(): replicateClient,
	}

	editor := qwen.NewEditor(qwenClient, pool)
	prep := pipeline.New(versions, sessions, blobs, editor, logger)

	exec := retry.New(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)
	coordinator := generation.NewCoordinator(jobs, assets, versions, blobs, pool, exec, generation.Options{
		Providers:       providers,
		DefaultProvider: cfg.DefaultProvider,
		MaxSlots:        cfg.SlotCountMax,
		CallbackURL:     cfg.PublicBaseURL + "/v1/webhooks/generation",
	}, logger)

	verifier := gateway.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)
	callbackGateway := gateway.New(jobs, assets, blobs, nil, logger)

	app := &handlers.App{
		Config:      cfg,
		Logger:      logger,
		Pipeline:    prep,
		Coordinator: coordinator,
		Gateway:     callbackGateway,
		Verifier:    verifier,
		Jobs:        jobs,
		Assets:      assets,
		Sessions:    sessions,
		Versions:    versions,
		Blobs:       blobs,
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	var lookup middleware.CountryLookup
	if resolver != nil {
		lookup = resolver.CountryCode
	}

	router := httpapi.NewRouter(app, lookup)
	// Drain in-flight generation jobs before the pool closes.
	server := infra.NewHTTPServer(cfg, router, coordinator.Wait)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newBlobStore(ctx context.Context, cfg *infra.Config) (storage.BlobStore, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return storage.NewFileStore(cfg.StoragePath)
}
