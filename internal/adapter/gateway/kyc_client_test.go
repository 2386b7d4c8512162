package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"payment-collection-broker/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func kycRequest() domain.KYCRequest {
	return domain.KYCRequest{
		CustomerGUID: "cust_1",
		FirstName:    "Amina",
		Surname:      "Otieno",
		MSISDN:       "+254712345678",
		NationalID:   "12345678",
		DateOfBirth:  "1990-05-15",
		PartnerGUID:  "demo",
	}
}

func newKYC(url string) *KYCClient {
	return NewKYCClient(nil, KYCConfig{BaseURL: url + "/", APIKey: "kyc-key"}, zerolog.Nop())
}

func TestKYCClient_Submit_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/kyc/verifications", r.URL.Path)
		assert.Equal(t, "Bearer kyc-key", r.Header.Get("Authorization"))

		var body domain.KYCRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cust_1", body.CustomerGUID)
		assert.Equal(t, "1990-05-15", body.DateOfBirth)

		writeJSON(w, http.StatusAccepted, map[string]any{"verification_id": "KYC-1"})
	}))
	defer srv.Close()

	out := newKYC(srv.URL).Submit(context.Background(), kycRequest())

	assert.Equal(t, domain.OutcomeAccepted, out.Kind)
	assert.Equal(t, "KYC-1", out.UpstreamID)
	assert.Equal(t, "pending", out.Status)
	assert.False(t, out.Timestamp.IsZero())
}

func TestKYCClient_Submit_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantKind domain.OutcomeKind
	}{
		{"missing verification id", http.StatusOK, map[string]any{}, domain.OutcomeUnavailable},
		{"invalid document", http.StatusUnprocessableEntity, map[string]any{"message": "national id unreadable"}, domain.OutcomeRejected},
		{"throttled", http.StatusTooManyRequests, map[string]any{}, domain.OutcomeUnavailable},
		{"provider down", http.StatusBadGateway, map[string]any{}, domain.OutcomeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			out := newKYC(srv.URL).Submit(context.Background(), kycRequest())
			assert.Equal(t, tt.wantKind, out.Kind)
			assert.NotEmpty(t, out.Reason)
		})
	}
}

func TestKYCClient_Submit_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	out := newKYC(url).Submit(context.Background(), kycRequest())

	assert.Equal(t, domain.OutcomeUnavailable, out.Kind)
	assert.Equal(t, "kyc provider unreachable", out.Reason)
}
