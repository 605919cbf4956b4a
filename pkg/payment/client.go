package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/patungan-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/patungan-backend/pkg/errors"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("payment base url is required")
	errLoggerRequired  = errors.New("payment logger is required")
)

// Client talks to the external payment service that holds escrowed funds.
// Every call is a plain JSON POST with an idempotency key so the remote
// side can deduplicate redeliveries.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

// ReleaseInput asks the payment service to move a session's escrowed funds
// to the seller.
type ReleaseInput struct {
	SessionID      uuid.UUID `json:"session_id"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// RefundSessionInput asks the payment service to return escrowed funds for
// every participant of a failed or cancelled session.
type RefundSessionInput struct {
	SessionID      uuid.UUID `json:"session_id"`
	IncludeBots    bool      `json:"include_bots"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// RefundCreditInput credits a single participant with the difference between
// what they paid and the final unit price.
type RefundCreditInput struct {
	SessionID      uuid.UUID       `json:"session_id"`
	ParticipantID  uuid.UUID       `json:"participant_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// NewClient initializes the payment wrapper and validates the configuration.
func NewClient(cfg config.EscrowConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.PaymentBaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logg,
	}, nil
}

// ReleaseEscrow releases all escrowed funds for the session to the seller.
func (c *Client) ReleaseEscrow(ctx context.Context, input ReleaseInput) error {
	return c.post(ctx, "/v1/escrow/release", "release_escrow", input)
}

// RefundSession refunds every participant of the session in full.
func (c *Client) RefundSession(ctx context.Context, input RefundSessionInput) error {
	return c.post(ctx, "/v1/escrow/refund-session", "refund_session", input)
}

// RefundCredit issues a partial refund credit to a single participant.
func (c *Client) RefundCredit(ctx context.Context, input RefundCreditInput) error {
	return c.post(ctx, "/v1/escrow/refund-credit", "refund_credit", input)
}

func (c *Client) post(ctx context.Context, path, op string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("encode %s payload", op))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("build %s request", op))
	}
	req.Header.Set("Content-Type", "application/json")

	lctx := c.logger.WithFields(ctx, map[string]any{"operation": op})
	c.logger.Info(lctx, "payment request")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error(lctx, "payment request failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("payment %s failed", op))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info(c.logger.WithField(lctx, "status", resp.StatusCode), "payment response")
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("payment %s returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(raw)))
	c.logger.Error(lctx, "payment response error", err)
	return pkgerrors.Wrap(codeForStatus(resp.StatusCode), err, fmt.Sprintf("payment %s failed", op))
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusConflict:
		return pkgerrors.CodeIdempotency
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

// IsRetryable reports whether the error is worth another delivery attempt:
// transport-level failures and gateway/overload statuses retry, anything the
// remote side rejected outright does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()
	for _, marker := range []string{
		"returned 502", "returned 503", "returned 504", "returned 429",
		"connection refused", "connection reset", "no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeRateLimit:
			return true
		case pkgerrors.CodeDependency:
			// Dependency errors without a status marker came from the
			// transport layer.
			return !strings.Contains(msg, "returned ")
		}
	}
	return false
}
