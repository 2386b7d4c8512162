package mongodb

import (
	"bytes"
	"context"
	"testing"
	"time"

	"payment-collection-broker/config"
	"payment-collection-broker/internal/core/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func TestToDocument(t *testing.T) {
	id := uuid.New()
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("EAT", 3*3600))
	entry := &domain.AuditLog{
		ID:            id,
		Action:        domain.AuditActionWebhookConflict,
		CorrelationID: "c1",
		UpstreamID:    "U1",
		Details:       map[string]any{"current_status": "COMPLETED", "attempted_status": "failed"},
		IPAddress:     "10.0.0.1",
		CreatedAt:     created,
	}

	doc := toDocument(entry)

	assert.Equal(t, id.String(), doc.ID)
	assert.Equal(t, "WEBHOOK_CONFLICT", doc.Action)
	assert.Equal(t, time.UTC, doc.CreatedAt.Location())
	assert.True(t, created.Equal(doc.CreatedAt))

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var decoded bson.M
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	assert.Equal(t, id.String(), decoded["_id"])
	assert.Equal(t, "c1", decoded["correlation_id"])
	assert.Contains(t, decoded, "details")
}

func TestToDocument_OmitsEmptyFields(t *testing.T) {
	doc := toDocument(&domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionInvalidSignature, CreatedAt: time.Now()})

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var decoded bson.M
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded, "correlation_id")
	assert.NotContains(t, decoded, "details")
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := NewClient(ctx, config.MongoConfig{URI: "mongodb://127.0.0.1:1", Database: "payment_broker"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestHealthCheck_Unreachable(t *testing.T) {
	client, err := mongo.Connect(options.Client().ApplyURI("mongodb://127.0.0.1:1").
		SetServerSelectionTimeout(200 * time.Millisecond))
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	hc := NewHealthCheck(client)
	assert.Equal(t, "mongodb", hc.Name())
	assert.Error(t, hc.Ping(context.Background()))
}

func TestClose_LogsDisconnectFailure(t *testing.T) {
	client, err := mongo.Connect(options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)

	var buf bytes.Buffer
	log := zerolog.New(&buf)

	require.NoError(t, Close(client, time.Second, log))
	assert.Empty(t, buf.String())

	err = Close(client, time.Second, log)
	assert.ErrorIs(t, err, mongo.ErrClientDisconnected)
	assert.Contains(t, buf.String(), "MongoDB disconnect failed")
	assert.Contains(t, buf.String(), `"level":"error"`)
}
