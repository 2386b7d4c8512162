// Package downstream forwards applied status changes to the system of record.
package downstream

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-collection-broker/internal/core/domain"

	"github.com/go-resty/resty/v2"
)

// SignatureHeader carries the HMAC of the payload's data object.
const SignatureHeader = "X-Signature"

// Signer signs outbound payloads.
type Signer interface {
	Sign(secretKey string, payload []byte) string
}

// Payload is the JSON body posted to the downstream endpoint.
type Payload struct {
	EventType string                   `json:"event_type"`
	Data      domain.StatusChangeEvent `json:"data"`
	Signature string                   `json:"signature,omitempty"`
}

// HTTPNotifier posts signed status changes to a fixed URL.
type HTTPNotifier struct {
	url    string
	secret string
	signer Signer
	client *resty.Client
}

func NewHTTPNotifier(client *resty.Client, url, secret string, signer Signer) *HTTPNotifier {
	if client == nil {
		client = resty.New()
	}
	client.SetRetryCount(0)
	return &HTTPNotifier{url: url, secret: secret, signer: signer, client: client}
}

func (n *HTTPNotifier) Name() string { return "http" }

// Notify makes one delivery attempt. Any non-2xx reply is an error.
func (n *HTTPNotifier) Notify(ctx context.Context, event domain.StatusChangeEvent) error {
	payload := Payload{EventType: domain.EventTypeStatusChanged, Data: event}

	r := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")

	if n.secret != "" && n.signer != nil {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("downstream: marshal event: %w", err)
		}
		payload.Signature = n.signer.Sign(n.secret, data)
		r.SetHeader(SignatureHeader, payload.Signature)
	}

	resp, err := r.SetBody(payload).Post(n.url)
	if err != nil {
		return fmt.Errorf("downstream: post: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("downstream: unexpected status %d", resp.StatusCode())
	}
	return nil
}
