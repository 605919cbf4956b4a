package payment

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/patungan-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/patungan-backend/pkg/errors"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(config.EscrowConfig{
		PaymentBaseURL: baseURL,
		RequestTimeout: 2 * time.Second,
	}, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.EscrowConfig{}, logger.New(logger.Options{ServiceName: "test"}))
	require.ErrorIs(t, err, errBaseURLRequired)
}

func TestReleaseEscrowPostsPayload(t *testing.T) {
	sessionID := uuid.New()
	var got ReleaseInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/escrow/release", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	err := client.ReleaseEscrow(context.Background(), ReleaseInput{
		SessionID:      sessionID,
		IdempotencyKey: "release-" + sessionID.String(),
	})

	require.NoError(t, err)
	assert.Equal(t, sessionID, got.SessionID)
}

func TestRefundCreditMapsClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	err := client.RefundCredit(context.Background(), RefundCreditInput{
		SessionID:     uuid.New(),
		ParticipantID: uuid.New(),
		Amount:        decimal.NewFromInt(5000),
		Currency:      "IDR",
	})

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.False(t, IsRetryable(err))
}

func TestRefundSessionRetryableOnGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	err := client.RefundSession(context.Background(), RefundSessionInput{SessionID: uuid.New()})

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.True(t, IsRetryable(err))
}

func TestIsRetryableTransportFailures(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	client := testClient(t, "http://"+addr)
	callErr := client.ReleaseEscrow(context.Background(), ReleaseInput{SessionID: uuid.New()})

	require.Error(t, callErr)
	assert.True(t, IsRetryable(callErr))
}

func TestIsRetryableRejectsValidationFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	err := client.ReleaseEscrow(context.Background(), ReleaseInput{SessionID: uuid.New()})

	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.False(t, IsRetryable(err))
}
