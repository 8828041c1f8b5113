package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"checkout-service/apperrors"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultKhaltiBaseURL = "https://dev.khalti.com/api/v2"

	KhaltiStatusCompleted = "Completed"

	// Lookup outcome statuses that did not come from Khalti itself.
	LookupStatusError     = "ERROR"
	LookupStatusException = "EXCEPTION"
)

// ErrKhaltiNotConfigured is returned when no Khalti secret key is configured.
var ErrKhaltiNotConfigured = apperrors.New(apperrors.KindConfiguration, "khalti secret key not configured", nil)

// LookupResult is the normalized answer of a Khalti lookup.
//
// Status is Khalti's own payment status when the gateway answered, ERROR when
// it answered with a non-2xx code, and EXCEPTION when the call or the decoding
// failed on our side.
type LookupResult struct {
	Success     bool                   `json:"success"`
	Status      string                 `json:"status"`
	PIDX        string                 `json:"pidx,omitempty"`
	TotalAmount int64                  `json:"total_amount"` // paisa
	Raw         map[string]interface{} `json:"raw,omitempty"`
	Error       string                 `json:"error,omitempty"`
	HTTPStatus  int                    `json:"http_status,omitempty"`
}

// Amount converts the paisa total to rupees.
func (r *LookupResult) Amount() decimal.Decimal {
	return decimal.New(r.TotalAmount, -2)
}

// InitiateResponse is Khalti's answer to a payment initiation, passed
// through with its status code.
type InitiateResponse struct {
	StatusCode int
	Body       map[string]interface{}
	PIDX       string
	PaymentURL string
}

// OK reports whether Khalti accepted the initiation.
func (r *InitiateResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorMessage extracts a readable message from a rejected initiation.
func (r *InitiateResponse) ErrorMessage() string {
	if detail, ok := r.Body["detail"].(string); ok && detail != "" {
		return detail
	}
	if msg, ok := r.Body["error"].(string); ok && msg != "" {
		return msg
	}
	if len(r.Body) > 0 {
		b, _ := json.Marshal(r.Body)
		return string(b)
	}
	return fmt.Sprintf("khalti initiation failed with HTTP %d", r.StatusCode)
}

// KhaltiClient talks to the Khalti ePayment API server-to-server.
type KhaltiClient struct {
	http      *resty.Client
	secretKey string
	logger    *zap.Logger
}

// NewKhaltiClient creates a client for baseURL. An empty secretKey is
// allowed; calls then fail with ErrKhaltiNotConfigured.
func NewKhaltiClient(baseURL, secretKey string, timeout time.Duration, logger *zap.Logger) *KhaltiClient {
	if baseURL == "" {
		baseURL = DefaultKhaltiBaseURL
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &KhaltiClient{
		http:      httpClient,
		secretKey: secretKey,
		logger:    logger,
	}
}

func (c *KhaltiClient) Configured() bool {
	return c.secretKey != ""
}

func (c *KhaltiClient) authHeader() string {
	return "Key " + c.secretKey
}

// Lookup asks Khalti for the authoritative status of pidx. Only a missing
// secret is returned as an error; every other outcome is in the result.
func (c *KhaltiClient) Lookup(ctx context.Context, pidx string) (*LookupResult, error) {
	if !c.Configured() {
		return nil, ErrKhaltiNotConfigured
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetBody(map[string]string{"pidx": pidx}).
		Post("/epayment/lookup/")
	if err != nil {
		c.logger.Warn("khalti lookup request failed", zap.String("pidx", pidx), zap.Error(err))
		return &LookupResult{Status: LookupStatusException, PIDX: pidx, Error: err.Error()}, nil
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		c.logger.Warn("khalti lookup rejected",
			zap.String("pidx", pidx),
			zap.Int("status_code", resp.StatusCode()),
		)
		return &LookupResult{
			Status:     LookupStatusError,
			PIDX:       pidx,
			HTTPStatus: resp.StatusCode(),
			Error:      fmt.Sprintf("khalti lookup failed with HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body()))),
		}, nil
	}

	var body struct {
		PIDX        string      `json:"pidx"`
		Status      string      `json:"status"`
		TotalAmount json.Number `json:"total_amount"`
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return &LookupResult{Status: LookupStatusException, PIDX: pidx, HTTPStatus: resp.StatusCode(), Error: "invalid lookup response: " + err.Error()}, nil
	}
	_ = json.Unmarshal(resp.Body(), &raw)
	if body.PIDX != pidx {
		c.logger.Warn("khalti lookup answered for a different pidx",
			zap.String("pidx", pidx),
			zap.String("response_pidx", body.PIDX),
		)
		return &LookupResult{Status: LookupStatusException, PIDX: pidx, HTTPStatus: resp.StatusCode(), Error: "lookup response is for a different pidx"}, nil
	}

	var paisa int64
	if body.TotalAmount != "" {
		amt, err := decimal.NewFromString(body.TotalAmount.String())
		if err != nil {
			return &LookupResult{Status: LookupStatusException, PIDX: pidx, HTTPStatus: resp.StatusCode(), Error: "invalid total_amount in lookup response"}, nil
		}
		paisa = amt.Round(0).IntPart()
	}

	result := &LookupResult{
		Status:      body.Status,
		PIDX:        pidx,
		TotalAmount: paisa,
		Raw:         raw,
		HTTPStatus:  resp.StatusCode(),
	}
	if body.Status != KhaltiStatusCompleted {
		result.Error = fmt.Sprintf("payment not completed: status %q", body.Status)
		return result, nil
	}
	result.Success = true
	return result, nil
}

// Initiate forwards a client-built initiation body to Khalti.
func (c *KhaltiClient) Initiate(ctx context.Context, body map[string]interface{}) (*InitiateResponse, error) {
	if !c.Configured() {
		return nil, ErrKhaltiNotConfigured
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetBody(body).
		Post("/epayment/initiate/")
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransport, "khalti initiation request failed", err)
	}

	out := &InitiateResponse{StatusCode: resp.StatusCode()}
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &out.Body); err != nil {
			out.Body = map[string]interface{}{"detail": strings.TrimSpace(string(resp.Body()))}
		}
	}
	out.PIDX, _ = out.Body["pidx"].(string)
	out.PaymentURL, _ = out.Body["payment_url"].(string)
	return out, nil
}
