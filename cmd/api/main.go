package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-collection-broker/config"
	"payment-collection-broker/internal/adapter/downstream"
	"payment-collection-broker/internal/adapter/gateway"
	httpHandler "payment-collection-broker/internal/adapter/http/handler"
	"payment-collection-broker/internal/adapter/storage/memory"
	mongoStorage "payment-collection-broker/internal/adapter/storage/mongodb"
	pgStorage "payment-collection-broker/internal/adapter/storage/postgres"
	redisStorage "payment-collection-broker/internal/adapter/storage/redis"
	"payment-collection-broker/internal/core/ports"
	"payment-collection-broker/internal/service"
	"payment-collection-broker/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("PCB_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("store", cfg.Store.Driver).
		Str("downstream", cfg.Downstream.Driver).
		Msg("Starting Payment Collection Broker")

	ctx := context.Background()
	var healthCheckers []ports.HealthChecker
	var auditRepo ports.AuditRepository

	// Transaction and customer stores
	var store ports.TransactionStore
	var customers ports.CustomerStore
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		if err := pgStorage.EnsureSchema(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply database schema")
		}
		store = pgStorage.NewTransactionStore(pool)
		customers = pgStorage.NewCustomerStore(pool)
		auditRepo = pgStorage.NewAuditRepo(pool)
		healthCheckers = append(healthCheckers, pgStorage.NewHealthCheck(pool))
	default:
		log.Warn().Msg("Using in-memory transaction store; records are lost on restart")
		store = memory.NewTransactionStore()
		customers = memory.NewCustomerStore()
	}

	// Redis: idempotency cache and rate limiting
	var idempCache ports.IdempotencyCache
	var rateLimitStore ports.RateLimitStore
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		idempCache = redisStorage.NewIdempotencyCache(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	// MongoDB takes over the audit trail when enabled
	if cfg.Mongo.Enabled {
		mc, err := mongoStorage.NewClient(ctx, cfg.Mongo, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer mongoStorage.Close(mc, 5*time.Second, log)
		auditRepo = mongoStorage.NewAuditRepo(mc, cfg.Mongo.Database)
		healthCheckers = append(healthCheckers, mongoStorage.NewHealthCheck(mc))
	}

	auditSvc := service.NewAuditService(auditRepo, log)

	// Upstream providers
	registry := gateway.NewRegistry()
	for name, p := range cfg.Gateway.Providers {
		registry.Register(name, gateway.NewHubClient(nil, gateway.HubConfig{
			Provider: name,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
		}, log))
	}
	if len(registry.Providers()) == 0 {
		log.Warn().Msg("No upstream providers configured; every initiation will be rejected")
	}

	retry := service.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		AttemptTimeout: cfg.Gateway.AttemptTimeout,
		Jitter:         cfg.Retry.Jitter,
	}

	// Downstream system of record
	notifier, closeNotifier := newNotifier(cfg.Downstream, log)
	defer closeNotifier()
	dispatcher := service.NewNotificationDispatcher(notifier, auditSvc, cfg.Downstream.Timeout, logger.Component(log, "dispatcher"))

	// Business services
	initSvc := service.NewInitiationService(store, registry, retry, idempCache, auditSvc, service.InitiationConfig{
		Currencies:    cfg.Payments.Currencies,
		FixedAmount:   cfg.Payments.FixedAmount,
		InProgressTTL: cfg.Idempotency.InProgressTTL,
		CompletedTTL:  cfg.Idempotency.CompletedTTL,
	}, logger.Component(log, "initiation"))

	if cfg.Webhook.Secret == "" {
		log.Warn().Msg("webhook.secret is empty; every webhook will fail signature verification")
	}
	reconcileSvc := service.NewReconciliationService(store, service.NewHMACWebhookVerifier(cfg.Webhook.Secret),
		dispatcher, auditSvc, logger.Component(log, "reconciler"))

	var kycClient ports.KYCClient
	if cfg.KYC.BaseURL != "" {
		kycClient = gateway.NewKYCClient(nil, gateway.KYCConfig{
			BaseURL: cfg.KYC.BaseURL,
			APIKey:  cfg.KYC.APIKey,
		}, log)
	} else {
		log.Warn().Msg("kyc.base_url is empty; customers are registered without KYC submission")
	}
	if cfg.KYC.WebhookSecret == "" {
		log.Warn().Msg("kyc.webhook_secret is empty; every KYC webhook will fail signature verification")
	}
	customerSvc := service.NewCustomerService(customers, kycClient, retry,
		service.NewHMACWebhookVerifier(cfg.KYC.WebhookSecret), auditSvc, logger.Component(log, "customers"))

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		InitiationSvc:  initSvc,
		ReconcileSvc:   reconcileSvc,
		CustomerSvc:    customerSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: healthCheckers,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Strs("providers", registry.Providers()).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	dispatcher.Wait()

	log.Info().Msg("Server exited")
}

// newNotifier builds the configured downstream notifier. A nil notifier
// disables forwarding.
func newNotifier(cfg config.DownstreamConfig, log zerolog.Logger) (ports.DownstreamNotifier, func()) {
	switch cfg.Driver {
	case "http":
		return downstream.NewHTTPNotifier(nil, cfg.URL, cfg.Secret, service.NewHMACSignatureService()), func() {}
	case "amqp":
		ch, closeFn, err := downstream.DialChannel(cfg.AMQPURL, cfg.Exchange, "payment-collection-broker")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		log.Info().Str("exchange", cfg.Exchange).Str("routing_key", cfg.RoutingKey).Msg("RabbitMQ publisher ready")
		return downstream.NewAMQPPublisher(ch, cfg.Exchange, cfg.RoutingKey), closeFn
	default:
		return nil, func() {}
	}
}
