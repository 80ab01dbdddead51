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

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rumiri/dopay/internal/api"
	"github.com/rumiri/dopay/internal/config"
	"github.com/rumiri/dopay/internal/events"
	"github.com/rumiri/dopay/internal/gateway"
	"github.com/rumiri/dopay/internal/handlers"
	"github.com/rumiri/dopay/internal/namematch"
	"github.com/rumiri/dopay/internal/repository"
	"github.com/rumiri/dopay/internal/service"
	"github.com/rumiri/dopay/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.Init("dopay"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting dopay payment service")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repository
	repo := repository.NewPaymentRepository(db)
	if err := repo.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Connect to Redis for the shared gateway token cache
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})

	// M-Pesa gateway client
	mpesa := gateway.New(gateway.Config{
		BaseURL:        cfg.MpesaBaseURL,
		ConsumerKey:    cfg.MpesaConsumerKey,
		ConsumerSecret: cfg.MpesaConsumerSecret,
		Shortcode:      cfg.MpesaShortcode,
		Passkey:        cfg.MpesaPasskey,
		TillNumber:     cfg.MpesaTillNumber,
		CallbackURL:    cfg.MpesaCallbackURL,
	}, nil, telemetry.Logger)
	mpesa.UseTokenCache(redisClient)

	// Kafka publisher for status change events
	publisher := events.NewPublisher(cfg.KafkaBrokers, telemetry.Logger)
	defer publisher.Close()

	// Name matching policy
	policy := namematch.StrictPolicy(cfg.MinNameLength)
	if cfg.NameMatchPolicy == "relaxed" {
		policy = namematch.RelaxedPolicy(cfg.MinNameLength)
	}

	// Services
	reconciler := service.NewReconciler(repo, mpesa, publisher, telemetry.Logger)
	verifier := service.NewVerifier(repo, publisher, policy, cfg.MaxVerifyAttempts, telemetry.Logger)
	tokens := service.NewTokenIssuer(repo, cfg.DownloadTokenTTL, cfg.DownloadFile, telemetry.Logger)

	// HTTP layer
	handler := handlers.NewPaymentHandler(reconciler, verifier, tokens, repo)
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("dopay listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
