package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p2deal/dealbot/internal/config"
	"github.com/p2deal/dealbot/internal/database"
	"github.com/p2deal/dealbot/internal/genai"
	"github.com/p2deal/dealbot/internal/handler"
	"github.com/p2deal/dealbot/internal/jobs"
	appmiddleware "github.com/p2deal/dealbot/internal/middleware"
	"github.com/p2deal/dealbot/internal/redis"
	"github.com/p2deal/dealbot/internal/registry"
	"github.com/p2deal/dealbot/internal/repository"
	"github.com/p2deal/dealbot/internal/service"
	"github.com/p2deal/dealbot/internal/storage"
	"github.com/p2deal/dealbot/internal/transport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("ENV") == "production"
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	pingCancel()
	log.Info().Msg("Connected to database")

	// Redis
	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()
	log.Info().Msg("Connected to Redis")

	// External collaborators
	gateway := transport.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	generator := genai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ListingModel, cfg.ImageModel)
	objectStore := storage.NewClient(cfg.StorageBaseURL, cfg.StorageAPIKey, cfg.SignedURLTTL())

	// In-memory deal registry
	reg := registry.New()

	// Repositories
	merchantRepo := repository.NewMerchantRepository(db.DB)
	listingRepo := repository.NewListingRepository(db.DB)

	// Services
	classifier := service.NewClassifier(
		reg, gateway,
		cfg.AgentTag, cfg.AgentAddress, cfg.AgentInboxID,
		config.RecentMessageWindow,
	)
	aggregator := service.NewAggregator(gateway, classifier.StripTag, config.RecentMessageWindow)
	builder := service.NewBuilder(gateway, generator, objectStore, cfg.StagingBucket)
	approvals := service.NewApprovalService(
		reg, gateway, objectStore, listingRepo,
		cfg.PermanentBucket, cfg.MarketplaceBaseURL,
	)
	deduper := service.NewRedisDeduper(redisClient.Client)
	limiter := service.NewRateLimiter(redisClient.Client, cfg.DraftsPerHour)

	dispatcher := service.NewDispatcher(
		cfg.QueueSize,
		classifier, aggregator, builder, approvals,
		reg, gateway, merchantRepo, deduper, limiter,
		cfg.AgentTag, cfg.AgentInboxID,
	)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		dispatcher.Run(workerCtx)
	}()

	// Middleware
	signatureMiddleware := appmiddleware.NewGatewaySignatureMiddleware(cfg.GatewaySignatureSecret)
	bodyLimitMiddleware := appmiddleware.NewBodyLimitMiddleware(0)

	// Handlers
	webhookHandler := handler.NewWebhookHandler(dispatcher)
	statusHandler := handler.NewStatusHandler(reg, merchantRepo, listingRepo)

	// Router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/webhook", func(r chi.Router) {
		r.Use(signatureMiddleware.Handler)
		r.Mount("/", webhookHandler.Routes())
	})

	r.Mount("/status", statusHandler.Routes())

	// Background cleanup
	cleanupJob := jobs.NewCleanupJob(reg, config.CleanupJobInterval, cfg.DraftTTL(), cfg.ApprovalTTL())
	cleanupJob.Start()
	defer cleanupJob.Stop()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerRequestTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("agentTag", cfg.AgentTag).
			Msg("Starting deal agent server")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed, forcing close")
			srv.Close()
		}

		// Let the worker drain what it already dequeued, then stop it.
		stopWorker()
		select {
		case <-workerDone:
		case <-shutdownCtx.Done():
			log.Warn().Msg("Worker did not stop before shutdown deadline")
		}
	}

	log.Info().Msg("Server stopped")
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
