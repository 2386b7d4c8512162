// Package mongodb keeps the audit trail in MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"payment-collection-broker/config"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const connectTimeout = 5 * time.Second

// NewClient connects to MongoDB and verifies the deployment is reachable.
func NewClient(ctx context.Context, cfg config.MongoConfig, log zerolog.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("creating mongo client: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("MongoDB connection established")
	return client, nil
}

// Close disconnects the client within timeout and logs a failed disconnect.
func Close(client *mongo.Client, timeout time.Duration, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("MongoDB disconnect failed")
		return err
	}
	return nil
}

// HealthCheck implements ports.HealthChecker for MongoDB.
type HealthCheck struct {
	client *mongo.Client
}

func NewHealthCheck(client *mongo.Client) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	return h.client.Ping(ctx, nil)
}

func (h *HealthCheck) Name() string {
	return "mongodb"
}
