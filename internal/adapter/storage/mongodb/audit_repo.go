package mongodb

import (
	"context"
	"fmt"
	"time"

	"payment-collection-broker/internal/core/domain"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

const auditCollection = "audit_logs"

// auditDocument is the stored shape of a domain.AuditLog.
type auditDocument struct {
	ID            string         `bson:"_id"`
	Action        string         `bson:"action"`
	CorrelationID string         `bson:"correlation_id,omitempty"`
	UpstreamID    string         `bson:"upstream_id,omitempty"`
	Details       map[string]any `bson:"details,omitempty"`
	IPAddress     string         `bson:"ip_address,omitempty"`
	CreatedAt     time.Time      `bson:"created_at"`
}

func toDocument(log *domain.AuditLog) auditDocument {
	return auditDocument{
		ID:            log.ID.String(),
		Action:        string(log.Action),
		CorrelationID: log.CorrelationID,
		UpstreamID:    log.UpstreamID,
		Details:       log.Details,
		IPAddress:     log.IPAddress,
		CreatedAt:     log.CreatedAt.UTC(),
	}
}

// AuditRepo implements ports.AuditRepository on a MongoDB collection.
type AuditRepo struct {
	collection *mongo.Collection
}

func NewAuditRepo(client *mongo.Client, dbName string) *AuditRepo {
	return &AuditRepo{collection: client.Database(dbName).Collection(auditCollection)}
}

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	if _, err := r.collection.InsertOne(ctx, toDocument(log)); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}
