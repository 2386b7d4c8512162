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

const verificationsPath = "/v1/kyc/verifications"

// KYCConfig locates the KYC provider.
type KYCConfig struct {
	BaseURL string
	APIKey  string
}

type kycResponse struct {
	VerificationID string    `json:"verification_id"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// KYCClient submits new customers for verification. The verdict arrives
// later on the KYC webhook.
type KYCClient struct {
	cfg    KYCConfig
	client *resty.Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewKYCClient(httpClient *resty.Client, cfg KYCConfig, log zerolog.Logger) *KYCClient {
	if httpClient == nil {
		httpClient = NewRestyClient()
	}
	httpClient.SetRetryCount(0)
	return &KYCClient{
		cfg:    cfg,
		client: httpClient,
		log:    log.With().Str("component", "kyc").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit posts req to the provider. Accepted outcomes carry the
// verification id as UpstreamID.
func (c *KYCClient) Submit(ctx context.Context, req domain.KYCRequest) domain.Outcome {
	var result kycResponse
	var failure hubError

	r := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&failure)
	if c.cfg.APIKey != "" {
		r.SetAuthToken(c.cfg.APIKey)
	}

	resp, err := r.Post(strings.TrimRight(c.cfg.BaseURL, "/") + verificationsPath)
	if err != nil {
		reason := "kyc provider unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "kyc provider timed out"
		}
		c.log.Warn().Err(err).Str("customer_guid", req.CustomerGUID).Msg(reason)
		return domain.Unavailable(reason)
	}

	status := resp.StatusCode()
	switch {
	case resp.IsSuccess():
		if result.VerificationID == "" {
			c.log.Warn().Int("status", status).Msg("kyc reply missing verification id")
			return domain.Unavailable("malformed kyc reply")
		}
		ts := result.Timestamp
		if ts.IsZero() {
			ts = c.now()
		}
		verdict := result.Status
		if verdict == "" {
			verdict = string(domain.CustomerStatusPending)
		}
		return domain.Accepted(result.VerificationID, verdict, ts)

	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		c.log.Warn().Int("status", status).Str("kyc_error", failure.Error).Msg("kyc provider unavailable")
		return domain.Unavailable(describe(status, failure))

	case status >= 400:
		c.log.Info().Int("status", status).Str("kyc_error", failure.Error).Msg("kyc provider rejected customer")
		return domain.Rejected(describe(status, failure))

	default:
		return domain.Unavailable(fmt.Sprintf("unexpected kyc status %d", status))
	}
}
