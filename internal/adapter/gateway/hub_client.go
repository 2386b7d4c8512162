// Package gateway talks to the upstream payment hub.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"payment-collection-broker/internal/core/domain"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const paymentsPath = "/v1/payments"

// HubConfig identifies one provider endpoint on the hub.
type HubConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
}

// hubResponse is the hub's reply to a payment submission.
type hubResponse struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Provider      string    `json:"provider"`
	PolicyID      string    `json:"policy_id"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

type hubError struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HubClient submits payments for a single provider.
type HubClient struct {
	cfg    HubConfig
	client *resty.Client
	log    zerolog.Logger
	now    func() time.Time
}

// NewHubClient wraps httpClient for cfg. Retries are disabled on the resty
// client; callers wrap Submit in a RetryPolicy.
func NewHubClient(httpClient *resty.Client, cfg HubConfig, log zerolog.Logger) *HubClient {
	if httpClient == nil {
		httpClient = NewRestyClient()
	}
	httpClient.SetRetryCount(0)
	return &HubClient{
		cfg:    cfg,
		client: httpClient,
		log:    log.With().Str("component", "gateway").Str("provider", cfg.Provider).Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewRestyClient returns the shared client used for hub calls.
func NewRestyClient() *resty.Client {
	return resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
}

// Submit posts req to the hub. The caller's context bounds the call.
func (c *HubClient) Submit(ctx context.Context, req domain.UpstreamRequest) domain.Outcome {
	var result hubResponse
	var failure hubError

	r := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&failure)
	if c.cfg.APIKey != "" {
		r.SetAuthToken(c.cfg.APIKey)
	}

	resp, err := r.Post(strings.TrimRight(c.cfg.BaseURL, "/") + paymentsPath)
	if err != nil {
		reason := "upstream unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "upstream timed out"
		}
		c.log.Warn().Err(err).Str("policy_ref", req.PolicyRef).Msg(reason)
		return domain.Unavailable(reason)
	}

	status := resp.StatusCode()
	switch {
	case resp.IsSuccess():
		if result.TransactionID == "" {
			c.log.Warn().Int("status", status).Msg("upstream reply missing transaction id")
			return domain.Unavailable("malformed upstream reply")
		}
		ts := result.Timestamp
		if ts.IsZero() {
			ts = c.now()
		}
		upstreamStatus := result.Status
		if upstreamStatus == "" {
			upstreamStatus = string(domain.NotificationPending)
		}
		return domain.Accepted(result.TransactionID, upstreamStatus, ts)

	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		c.log.Warn().Int("status", status).Str("upstream_error", failure.Error).Msg("upstream unavailable")
		return domain.Unavailable(describe(status, failure))

	case status >= 400:
		c.log.Info().Int("status", status).Str("upstream_error", failure.Error).Msg("upstream rejected payment")
		return domain.Rejected(describe(status, failure))

	default:
		return domain.Unavailable(fmt.Sprintf("unexpected upstream status %d", status))
	}
}

func describe(status int, failure hubError) string {
	if failure.Message != "" {
		return failure.Message
	}
	if failure.Error != "" {
		return failure.Error
	}
	return fmt.Sprintf("upstream returned %d %s", status, http.StatusText(status))
}
