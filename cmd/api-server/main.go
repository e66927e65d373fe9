package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/configs"
	"github.com/fingaurd/fraud-engine/internal/alerts"
	"github.com/fingaurd/fraud-engine/internal/anomaly"
	"github.com/fingaurd/fraud-engine/internal/api"
	"github.com/fingaurd/fraud-engine/internal/features"
	"github.com/fingaurd/fraud-engine/internal/profile"
	"github.com/fingaurd/fraud-engine/internal/queue"
	"github.com/fingaurd/fraud-engine/internal/repositories"
	"github.com/fingaurd/fraud-engine/internal/scoring"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting Fraud Engine API Server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Initialize pipeline components
	extractor := features.NewExtractor(cfg.Engine)
	profileStore := profile.NewCachedStore(
		profile.NewPostgresStore(db, cfg.Training.SampleWindow),
		cacheClient,
		cfg.Redis.StatsCacheTTL,
	)
	manager := anomaly.NewManager(cfg.Training.PreviousModelGrace)
	trainer := anomaly.NewTrainer(cfg.Training)
	engine := scoring.NewDecisionEngine(cfg.Engine)

	modelRepo := repositories.NewModelRepository(db)
	trainingData := repositories.NewTrainingDataSource(db, extractor, cfg.Training)

	service := scoring.NewService(extractor, profileStore, manager, trainer, engine).
		WithTraining(trainingData, modelRepo)

	// Kafka is optional for the API path; scoring must not depend on it.
	if publisher, err := alerts.NewPublisher(cfg.Kafka); err != nil {
		log.Warn().Err(err).Msg("Kafka unavailable, fraud alerts disabled")
	} else {
		defer publisher.Close()
		service.WithAlerts(publisher)
	}

	// Load the latest persisted model so restarts serve without retraining
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if model, err := modelRepo.LoadLatest(loadCtx); err != nil {
		if errors.Is(err, repositories.ErrNoModelSnapshot) {
			log.Warn().Msg("No model snapshot found, engine not ready until first training")
		} else {
			log.Error().Err(err).Msg("Failed to load model snapshot, engine not ready")
		}
	} else if err := manager.Publish(model); err != nil {
		log.Error().Err(err).Msg("Failed to publish loaded model")
	}
	loadCancel()

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestIDMiddleware())
	router.Use(api.LoggingMiddleware())
	router.Use(api.CORSMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := api.NewRateLimiter(100, time.Minute)
	router.Use(api.RateLimitMiddleware(rateLimiter))

	handler := api.NewHandler(service, streamClient, db)
	handler.RegisterRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
