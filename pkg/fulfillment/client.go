package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/patungan-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/patungan-backend/pkg/errors"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("fulfillment base url is required")
	errLoggerRequired  = errors.New("fulfillment logger is required")
)

// Client talks to the external fulfillment service that turns a successful
// pool into individual production orders.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

// OrderLine describes one participant's share of a bulk order.
type OrderLine struct {
	ParticipantID uuid.UUID       `json:"participant_id"`
	UserID        *uuid.UUID      `json:"user_id,omitempty"`
	VariantID     *uuid.UUID      `json:"variant_id,omitempty"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	IsBot         bool            `json:"is_bot"`
}

// BulkOrderInput carries everything the fulfillment side needs to schedule
// production for a completed session.
type BulkOrderInput struct {
	SessionID               uuid.UUID   `json:"session_id"`
	ProductID               uuid.UUID   `json:"product_id"`
	Currency                string      `json:"currency"`
	EstimatedCompletionDate *time.Time  `json:"estimated_completion_date,omitempty"`
	Lines                   []OrderLine `json:"lines"`
	IdempotencyKey          string      `json:"idempotency_key"`
}

// NewClient initializes the fulfillment wrapper and validates the configuration.
func NewClient(cfg config.EscrowConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.FulfillmentBaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logg,
	}, nil
}

// CreateBulkOrders registers production orders for every line of the session.
func (c *Client) CreateBulkOrders(ctx context.Context, input BulkOrderInput) error {
	body, err := json.Marshal(input)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode bulk order payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders/bulk", bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build bulk order request")
	}
	req.Header.Set("Content-Type", "application/json")

	lctx := c.logger.WithFields(ctx, map[string]any{
		"operation":  "create_bulk_orders",
		"session_id": input.SessionID.String(),
		"lines":      len(input.Lines),
	})
	c.logger.Info(lctx, "fulfillment request")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error(lctx, "fulfillment request failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fulfillment create_bulk_orders failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info(c.logger.WithField(lctx, "status", resp.StatusCode), "fulfillment response")
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("fulfillment create_bulk_orders returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	c.logger.Error(lctx, "fulfillment response error", err)
	return pkgerrors.Wrap(codeForStatus(resp.StatusCode), err, "fulfillment create_bulk_orders failed")
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
