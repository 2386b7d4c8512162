package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HMACSignatureService signs and verifies payloads with HMAC-SHA256.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks if signature matches HMAC-SHA256(secretKey, payload).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(secretKey string, payload []byte, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// HMACWebhookVerifier implements ports.WebhookVerifier with a secret shared
// with the payment hub. An empty secret or proof never verifies.
type HMACWebhookVerifier struct {
	secret string
	sig    *HMACSignatureService
}

func NewHMACWebhookVerifier(secret string) *HMACWebhookVerifier {
	return &HMACWebhookVerifier{secret: secret, sig: NewHMACSignatureService()}
}

func (v *HMACWebhookVerifier) Verify(payload []byte, proof string) bool {
	if v.secret == "" || proof == "" {
		return false
	}
	return v.sig.Verify(v.secret, payload, strings.TrimPrefix(proof, "sha256="))
}
