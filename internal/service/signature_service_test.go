package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	secretKey := "my-secret-key"
	payload := []byte(`{"transaction_id":"U1","status":"completed"}`)

	signature := svc.Sign(secretKey, payload)

	assert.Regexp(t, `^[0-9a-f]{64}$`, signature, "signature should be 64-char lowercase hex (SHA-256)")
	assert.True(t, svc.Verify(secretKey, payload, signature))
}

func TestHMACSignatureService_VerifyFails(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := []byte("original payload")
	signature := svc.Sign("correct-key", payload)

	assert.False(t, svc.Verify("wrong-key", payload, signature))
	assert.False(t, svc.Verify("correct-key", []byte("tampered payload"), signature))
	assert.False(t, svc.Verify("correct-key", payload, "invalidsignature"))
}

func TestHMACSignatureService_DeterministicSign(t *testing.T) {
	svc := NewHMACSignatureService()

	assert.Equal(t, svc.Sign("key", []byte("data")), svc.Sign("key", []byte("data")))
}

func TestHMACWebhookVerifier(t *testing.T) {
	payload := []byte(`{"transaction_id":"U1"}`)
	valid := NewHMACSignatureService().Sign("whsec", payload)

	tests := []struct {
		name   string
		secret string
		proof  string
		want   bool
	}{
		{"valid", "whsec", valid, true},
		{"valid with scheme prefix", "whsec", "sha256=" + valid, true},
		{"uppercase hex", "whsec", strings.ToUpper(valid), true},
		{"wrong secret", "other", valid, false},
		{"empty proof", "whsec", "", false},
		{"unconfigured secret", "", valid, false},
		{"arbitrary prefix is not a bypass", "whsec", "valid_signature_123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewHMACWebhookVerifier(tt.secret)
			assert.Equal(t, tt.want, v.Verify(payload, tt.proof))
		})
	}
}
