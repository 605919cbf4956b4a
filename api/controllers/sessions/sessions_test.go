package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalsessions "github.com/angelmondragon/patungan-backend/internal/sessions"
	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/patungan-backend/pkg/errors"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

type fakeService struct {
	createInput    *internalsessions.CreateSessionInput
	createErr      error
	joinInput      *internalsessions.JoinInput
	joinResult     *internalsessions.JoinResult
	joinErr        error
	leaveSession   uuid.UUID
	leaveUser      uuid.UUID
	cancelSession  uuid.UUID
	cancelReason   string
	statsResult    *internalsessions.StatsDTO
	statsErr       error
	listParams     *internalsessions.ListParams
	expiredCount   int
	expiredCalled  bool
	startSession   uuid.UUID
	startEstimate  *time.Time
	completeCalled bool
}

func (f *fakeService) CreateSession(_ context.Context, input internalsessions.CreateSessionInput) (*models.GroupSession, error) {
	f.createInput = &input
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.GroupSession{ID: uuid.New(), ProductID: input.ProductID, Status: enums.SessionStatusForming}, nil
}

func (f *fakeService) Join(_ context.Context, input internalsessions.JoinInput) (*internalsessions.JoinResult, error) {
	f.joinInput = &input
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return f.joinResult, nil
}

func (f *fakeService) JoinBot(context.Context, uuid.UUID, int) (*models.SessionParticipant, error) {
	return nil, nil
}

func (f *fakeService) Leave(_ context.Context, sessionID, userID uuid.UUID) error {
	f.leaveSession = sessionID
	f.leaveUser = userID
	return nil
}

func (f *fakeService) Cancel(_ context.Context, sessionID uuid.UUID, reason string) error {
	f.cancelSession = sessionID
	f.cancelReason = reason
	return nil
}

func (f *fakeService) Stats(context.Context, uuid.UUID) (*internalsessions.StatsDTO, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.statsResult, nil
}

func (f *fakeService) Availability(context.Context, uuid.UUID, *uuid.UUID) (*internalsessions.AvailabilityDTO, error) {
	return &internalsessions.AvailabilityDTO{Available: 7}, nil
}

func (f *fakeService) List(_ context.Context, params internalsessions.ListParams) (*internalsessions.ListResult, error) {
	f.listParams = &params
	return &internalsessions.ListResult{}, nil
}

func (f *fakeService) ActivateDue(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeService) ProcessExpired(context.Context, time.Time) (int, error) {
	f.expiredCalled = true
	return f.expiredCount, nil
}

func (f *fakeService) StartProduction(_ context.Context, sessionID uuid.UUID, estimated *time.Time) error {
	f.startSession = sessionID
	f.startEstimate = estimated
	return nil
}

func (f *fakeService) CompleteProduction(context.Context, uuid.UUID) error {
	f.completeCalled = true
	return nil
}

func newTestRouter(svc internalsessions.Service) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test"})
	r := chi.NewRouter()
	r.Post("/api/v1/sessions", Create(svc, logg))
	r.Get("/api/v1/sessions", List(svc, logg))
	r.Get("/api/v1/sessions/{sessionId}/stats", Stats(svc, logg))
	r.Get("/api/v1/sessions/{sessionId}/availability", Availability(svc, logg))
	r.Post("/api/v1/sessions/{sessionId}/join", Join(svc, logg))
	r.Post("/api/v1/sessions/process-expired", ProcessExpired(svc, logg))
	r.Delete("/api/v1/sessions/{sessionId}/leave", Leave(svc, logg))
	r.Post("/api/v1/sessions/{sessionId}/cancel", Cancel(svc, logg))
	r.Post("/api/v1/sessions/{sessionId}/production/start", StartProduction(svc, logg))
	r.Post("/api/v1/sessions/{sessionId}/production/complete", CompleteProduction(svc, logg))
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func envelopeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestCreateSession(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	body := `{
		"product_id": "` + uuid.NewString() + `",
		"factory_id": "` + uuid.NewString() + `",
		"target_moq": 100,
		"base_price": "100000",
		"tier_1_price": "90000",
		"tier_2_price": "85000",
		"tier_3_price": "80000",
		"start_time": "2026-09-01T00:00:00Z",
		"end_time": "2026-09-08T00:00:00Z"
	}`
	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, svc.createInput)
	assert.Equal(t, 100, svc.createInput.TargetMOQ)
	assert.True(t, svc.createInput.BasePrice.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC), svc.createInput.EndTime)
}

func TestCreateSessionRejectsMissingFields(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions", `{"target_moq": 100}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.createInput)
}

func TestJoinSession(t *testing.T) {
	svc := &fakeService{
		joinResult: &internalsessions.JoinResult{
			Participant: &models.SessionParticipant{ID: uuid.New(), Quantity: 5},
			Stats:       internalsessions.StatsDTO{TotalQuantity: 5},
		},
	}
	router := newTestRouter(svc)

	sessionID := uuid.New()
	userID := uuid.New()
	body := `{"user_id": "` + userID.String() + `", "quantity": 5}`
	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/join", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, svc.joinInput)
	assert.Equal(t, sessionID, svc.joinInput.SessionID)
	assert.Equal(t, userID, svc.joinInput.UserID)
	assert.Equal(t, 5, svc.joinInput.Quantity)
	assert.Nil(t, svc.joinInput.VariantID)
}

func TestJoinSessionInvalidSessionID(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions/not-a-uuid/join",
		`{"user_id": "`+uuid.NewString()+`", "quantity": 1}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.joinInput)
}

func TestJoinSessionServiceErrorPassthrough(t *testing.T) {
	svc := &fakeService{joinErr: pkgerrors.New(pkgerrors.CodeConflict, "insufficient variant availability")}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/join",
		`{"user_id": "`+uuid.NewString()+`", "quantity": 500}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient variant availability")
}

func TestLeaveSession(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	sessionID := uuid.New()
	userID := uuid.New()
	rec := doRequest(t, router, http.MethodDelete, "/api/v1/sessions/"+sessionID.String()+"/leave",
		`{"user_id": "`+userID.String()+`"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, sessionID, svc.leaveSession)
	assert.Equal(t, userID, svc.leaveUser)
}

func TestCancelSessionWithoutBody(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	sessionID := uuid.New()
	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/cancel", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, sessionID, svc.cancelSession)
	assert.Empty(t, svc.cancelReason)
}

func TestCancelSessionWithReason(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/cancel",
		`{"reason": "factory unavailable"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "factory unavailable", svc.cancelReason)
}

func TestSessionStats(t *testing.T) {
	sessionID := uuid.New()
	svc := &fakeService{
		statsResult: &internalsessions.StatsDTO{
			SessionID:     sessionID,
			Status:        enums.SessionStatusActive,
			TotalQuantity: 42,
			TargetMOQ:     100,
		},
	}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/sessions/"+sessionID.String()+"/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	data := envelopeData(t, rec)
	assert.Equal(t, float64(42), data["totalQuantity"])
}

func TestSessionStatsNotFound(t *testing.T) {
	svc := &fakeService{statsErr: pkgerrors.New(pkgerrors.CodeNotFound, "session not found")}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/sessions/"+uuid.NewString()+"/stats", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessionsFilters(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/sessions?status=active&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.listParams)
	require.NotNil(t, svc.listParams.Status)
	assert.Equal(t, enums.SessionStatusActive, *svc.listParams.Status)
	assert.Equal(t, 10, svc.listParams.Limit)
}

func TestListSessionsRejectsUnknownStatus(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/sessions?status=bogus", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.listParams)
}

func TestProcessExpiredReportsCount(t *testing.T) {
	svc := &fakeService{expiredCount: 3}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions/process-expired", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, svc.expiredCalled)
	data := envelopeData(t, rec)
	assert.Equal(t, float64(3), data["processed"])
}

func TestStartProductionWithEstimate(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	sessionID := uuid.New()
	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions/"+sessionID.String()+"/production/start",
		`{"estimated_completion_date": "2026-10-01T00:00:00Z"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, sessionID, svc.startSession)
	require.NotNil(t, svc.startEstimate)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), *svc.startEstimate)
}

func TestCompleteProduction(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/sessions/"+uuid.NewString()+"/production/complete", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.completeCalled)
}
