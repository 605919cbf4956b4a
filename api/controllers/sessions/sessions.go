package sessions

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/patungan-backend/api/responses"
	"github.com/angelmondragon/patungan-backend/api/validators"
	internalsessions "github.com/angelmondragon/patungan-backend/internal/sessions"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/patungan-backend/pkg/errors"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
	"github.com/angelmondragon/patungan-backend/pkg/pagination"
)

// Create opens a new pooled-purchase session with the factory's tier ladder.
func Create(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		var payload createSessionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CreateSession(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// List returns a cursor page of sessions, optionally filtered by status.
func List(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := internalsessions.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseSessionStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid status %q", raw)))
				return
			}
			params.Status = &status
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Stats returns the live pool aggregates for one session.
func Stats(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, err := parseSessionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stats, err := svc.Stats(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// Availability reports how many units of a variant remain purchasable at the
// pool's current fill level.
func Availability(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, err := parseSessionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var variantID *uuid.UUID
		if raw := strings.TrimSpace(r.URL.Query().Get("variant_id")); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id"))
				return
			}
			variantID = &parsed
		}

		availability, err := svc.Availability(r.Context(), sessionID, variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, availability)
	}
}

func Join(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, err := parseSessionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload joinRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		input := internalsessions.JoinInput{
			SessionID: sessionID,
			UserID:    userID,
			Quantity:  payload.Quantity,
		}
		if payload.VariantID != nil {
			variantID, err := uuid.Parse(*payload.VariantID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id"))
				return
			}
			input.VariantID = &variantID
		}

		result, err := svc.Join(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func Leave(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, err := parseSessionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload leaveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		if err := svc.Leave(r.Context(), sessionID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func Cancel(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, err := parseSessionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Cancel(r.Context(), sessionID, strings.TrimSpace(payload.Reason)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func StartProduction(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, err := parseSessionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload startProductionRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var estimated *time.Time
		if payload.EstimatedCompletionDate != nil {
			parsed, err := parseTimestamp(*payload.EstimatedCompletionDate, "estimated_completion_date")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			estimated = parsed
		}

		if err := svc.StartProduction(r.Context(), sessionID, estimated); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func CompleteProduction(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		sessionID, err := parseSessionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.CompleteProduction(r.Context(), sessionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// ProcessExpired sweeps sessions past their deadline. Exposed for the
// scheduler; the sweeper worker covers the same ground on its own interval.
func ProcessExpired(svc internalsessions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sessions service unavailable"))
			return
		}

		processed, err := svc.ProcessExpired(r.Context(), time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, processExpiredResponse{Processed: processed})
	}
}

type processExpiredResponse struct {
	Processed int `json:"processed"`
}

type createSessionRequest struct {
	ProductID               string          `json:"product_id" validate:"required,uuid4"`
	FactoryID               string          `json:"factory_id" validate:"required,uuid4"`
	TargetMOQ               int             `json:"target_moq" validate:"required,min=2"`
	BasePrice               decimal.Decimal `json:"base_price" validate:"required"`
	Tier1Price              decimal.Decimal `json:"tier_1_price" validate:"required"`
	Tier2Price              decimal.Decimal `json:"tier_2_price" validate:"required"`
	Tier3Price              decimal.Decimal `json:"tier_3_price" validate:"required"`
	Currency                string          `json:"currency,omitempty"`
	StartTime               string          `json:"start_time" validate:"required"`
	EndTime                 string          `json:"end_time" validate:"required"`
	EstimatedCompletionDate *string         `json:"estimated_completion_date,omitempty"`
}

func (p createSessionRequest) toInput() (internalsessions.CreateSessionInput, error) {
	var input internalsessions.CreateSessionInput

	productID, err := uuid.Parse(p.ProductID)
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
	}
	factoryID, err := uuid.Parse(p.FactoryID)
	if err != nil {
		return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid factory id")
	}

	startTime, err := parseTimestamp(p.StartTime, "start_time")
	if err != nil {
		return input, err
	}
	endTime, err := parseTimestamp(p.EndTime, "end_time")
	if err != nil {
		return input, err
	}

	input = internalsessions.CreateSessionInput{
		ProductID:  productID,
		FactoryID:  factoryID,
		TargetMOQ:  p.TargetMOQ,
		BasePrice:  p.BasePrice,
		Tier1Price: p.Tier1Price,
		Tier2Price: p.Tier2Price,
		Tier3Price: p.Tier3Price,
		Currency:   enums.Currency(strings.ToUpper(strings.TrimSpace(p.Currency))),
		StartTime:  *startTime,
		EndTime:    *endTime,
	}
	if p.EstimatedCompletionDate != nil {
		estimated, err := parseTimestamp(*p.EstimatedCompletionDate, "estimated_completion_date")
		if err != nil {
			return input, err
		}
		input.EstimatedCompletionDate = estimated
	}
	return input, nil
}

type joinRequest struct {
	UserID    string  `json:"user_id" validate:"required,uuid4"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`
}

type leaveRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type startProductionRequest struct {
	EstimatedCompletionDate *string `json:"estimated_completion_date,omitempty"`
}

func parseSessionID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid session id")
	}
	return parsed, nil
}

func parseTimestamp(value, field string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s", field))
		}
	}
	return &t, nil
}
