package handler

import (
	"payment-collection-broker/internal/adapter/http/middleware"
	"payment-collection-broker/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	InitiationSvc  ports.InitiationService
	ReconcileSvc   ports.ReconciliationService
	CustomerSvc    ports.CustomerService // nil = customer routes not mounted
	TokenSvc       ports.TokenService
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	paymentHandler := NewPaymentHandler(deps.InitiationSvc, deps.ReconcileSvc)
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	payments := r.Group("/api/v1/payments")
	{
		// The hub authenticates webhooks with a body signature, not a bearer token.
		payments.POST("/webhook", rl("webhook"), paymentHandler.Webhook)
		payments.POST("/initiate", jwtAuth, rl("initiate"), paymentHandler.Initiate)
		payments.GET("/:correlation_id", jwtAuth, rl("lookup"), paymentHandler.Get)
	}

	if deps.CustomerSvc != nil {
		customerHandler := NewCustomerHandler(deps.CustomerSvc)
		customers := r.Group("/api/v1/customers")
		{
			customers.POST("/webhooks/kyc-status", rl("webhook"), customerHandler.KYCWebhook)
			customers.POST("/register", jwtAuth, rl("register"), customerHandler.Register)
			customers.GET("/:customer_guid", jwtAuth, rl("lookup"), customerHandler.Get)
		}
	}

	return r
}
