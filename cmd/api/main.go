package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scenebatch/internal/batch"
	"scenebatch/internal/budget"
	"scenebatch/internal/http/handlers"
	httpapi "scenebatch/internal/http/httpapi"
	"scenebatch/internal/idempotency"
	"scenebatch/internal/infra"
	"scenebatch/internal/infra/geoip"
	"scenebatch/internal/ledger"
	"scenebatch/internal/middleware"
	"scenebatch/internal/pricing"
	"scenebatch/internal/providers/image"
	"scenebatch/internal/ratelimit"
	"scenebatch/internal/refurl"
	"scenebatch/internal/retry"
	"scenebatch/internal/sheets"
	"scenebatch/internal/storage"
	"scenebatch/internal/stream"
)

func main() {
	// Load .env (optional).
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	ctx := context.Background()

	store, err := storage.NewFileStore(cfg.StorageDir, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Idempotency store: Postgres when configured, otherwise in-memory.
	var idemStore idempotency.Store
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		if _, err := dbpool.Exec(ctx, idempotency.Schema); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure idempotency schema")
		}
		idemStore = idempotency.NewPostgresStore(dbpool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, idempotency store is in-memory")
		idemStore = idempotency.NewMemoryStore()
	}

	guard, err := budget.New(cfg.DailyBudgetUSD, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid daily budget")
	}
	prices, err := pricing.Load(cfg.PricingTablePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load pricing table")
	}

	generator, err := image.NewGeminiGenerator(image.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Store:   store,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize image generator")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set, generating synthetic images")
	}

	var sink sheets.RowSink
	if cfg.SheetsSpreadsheetID != "" {
		s, err := sheets.NewSink(ctx, cfg.SheetsCredentialsFile, cfg.SheetsSpreadsheetID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize sheets sink")
		}
		sink = s
	}

	jobs := ledger.New(store, logger)
	orc := batch.New(batch.Deps{
		Limiter:     ratelimit.New(cfg.SubmitCooldown),
		Idempotency: idemStore,
		Budget:      guard,
		Pricing:     prices,
		Jobs:        jobs,
		Costs:       ledger.NewCostLog(store),
		Retry:       retry.New(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay, image.IsRetryable),
		Generator:   generator,
		Refresher: refurl.New(cfg.RefURLMaxAge, func(ctx context.Context, locator string) (string, error) {
			return store.URL(locator)
		}, logger),
		Sink:           sink,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Model:          cfg.GeminiModel,
		Logger:         logger,
	})
	streamer := stream.New(jobs, logger).WithIntervals(cfg.StreamPollInterval, cfg.StreamHeartbeatInterval)

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	app := handlers.NewApp(orc, streamer, store, logger)
	router := httpapi.NewRouter(app, cfg, logger, lookup)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
