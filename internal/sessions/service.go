package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/patungan-backend/internal/allocation"
	"github.com/angelmondragon/patungan-backend/internal/escrow"
	"github.com/angelmondragon/patungan-backend/internal/pricing"
	"github.com/angelmondragon/patungan-backend/pkg/config"
	dbpkg "github.com/angelmondragon/patungan-backend/pkg/db"
	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/patungan-backend/pkg/errors"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
	"github.com/angelmondragon/patungan-backend/pkg/outbox"
	"github.com/angelmondragon/patungan-backend/pkg/outbox/payloads"
	pkgpagination "github.com/angelmondragon/patungan-backend/pkg/pagination"
)

const expiredBatchSize = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type escrowEnqueuer interface {
	EnqueueRelease(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error
	EnqueueRefundSession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, includeBots bool) error
	EnqueueRefundCredits(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, tier enums.PriceTier, credits []escrow.Credit) error
	EnqueueCreateOrders(ctx context.Context, tx *gorm.DB, session *models.GroupSession, participants []models.SessionParticipant) error
}

// errVersionConflict aborts the current transaction so the whole operation
// can be retried from fresh state.
var errVersionConflict = errors.New("session version conflict")

// Service owns the session state machine: joins, leaves, cancellation,
// expiry sweeps, and production bookkeeping.
type Service interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*models.GroupSession, error)
	Join(ctx context.Context, input JoinInput) (*JoinResult, error)
	JoinBot(ctx context.Context, sessionID uuid.UUID, quantity int) (*models.SessionParticipant, error)
	Leave(ctx context.Context, sessionID, userID uuid.UUID) error
	Cancel(ctx context.Context, sessionID uuid.UUID, reason string) error
	Stats(ctx context.Context, sessionID uuid.UUID) (*StatsDTO, error)
	Availability(ctx context.Context, sessionID uuid.UUID, variantID *uuid.UUID) (*AvailabilityDTO, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	ActivateDue(ctx context.Context, now time.Time) (int, error)
	ProcessExpired(ctx context.Context, now time.Time) (int, error)
	StartProduction(ctx context.Context, sessionID uuid.UUID, estimatedCompletion *time.Time) error
	CompleteProduction(ctx context.Context, sessionID uuid.UUID) error
}

type service struct {
	repo          *Repository
	tx            txRunner
	outbox        outboxPublisher
	escrow        escrowEnqueuer
	pricing       *pricing.Engine
	allocation    *allocation.Engine
	logg          *logger.Logger
	maxRetries    int
	revertOnLeave bool
	refundBots    bool
}

// ServiceParams wires the session service dependencies.
type ServiceParams struct {
	Repo     *Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Escrow   escrowEnqueuer
	Logger   *logger.Logger
	Sessions config.SessionsConfig
	Bots     config.BotsConfig
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("sessions repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow enqueuer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	maxRetries := params.Sessions.MaxJoinRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &service{
		repo:          params.Repo,
		tx:            params.Tx,
		outbox:        params.Outbox,
		escrow:        params.Escrow,
		pricing:       pricing.NewEngine(),
		allocation:    allocation.NewEngine(),
		logg:          params.Logger,
		maxRetries:    maxRetries,
		revertOnLeave: params.Sessions.RevertOnLeave,
		refundBots:    params.Bots.Refundable,
	}, nil
}

func (s *service) CreateSession(ctx context.Context, input CreateSessionInput) (*models.GroupSession, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.FactoryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "factory id required")
	}
	if input.TargetMOQ < 2 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target moq must be at least 2")
	}
	// Tier prices must be strictly decreasing; a non-discounting tier ladder
	// is a configuration bug, rejected before it can reach the state machine.
	if !input.BasePrice.GreaterThan(input.Tier1Price) ||
		!input.Tier1Price.GreaterThan(input.Tier2Price) ||
		!input.Tier2Price.GreaterThan(input.Tier3Price) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier prices must be strictly decreasing")
	}
	if input.Tier3Price.Sign() < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier prices must not be negative")
	}
	if !input.EndTime.After(input.StartTime) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end time must be after start time")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyIDR
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}

	session := &models.GroupSession{
		ID:                      uuid.New(),
		ProductID:               input.ProductID,
		FactoryID:               input.FactoryID,
		TargetMOQ:               input.TargetMOQ,
		BasePrice:               input.BasePrice,
		Tier1Price:              input.Tier1Price,
		Tier2Price:              input.Tier2Price,
		Tier3Price:              input.Tier3Price,
		Currency:                currency,
		CurrentTier:             enums.PriceTierBase,
		Status:                  enums.SessionStatusForming,
		StartTime:               input.StartTime,
		EndTime:                 input.EndTime,
		EstimatedCompletionDate: input.EstimatedCompletionDate,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create session")
	}
	return session, nil
}

func (s *service) Join(ctx context.Context, input JoinInput) (*JoinResult, error) {
	if input.SessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var result *JoinResult
	err := s.withVersionRetry(ctx, func(tx *gorm.DB) error {
		r, err := s.joinTx(ctx, tx, input, time.Now())
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) joinTx(ctx context.Context, tx *gorm.DB, input JoinInput, now time.Time) (*JoinResult, error) {
	repo := s.repo.WithTx(tx)

	session, err := s.loadSession(ctx, repo, input.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.IsJoinable() {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "session is not accepting joins")
	}
	if !now.Before(session.EndTime) {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "session deadline has passed")
	}

	participants, err := repo.ActiveParticipants(ctx, session.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load participants")
	}
	totals := totalsOf(participants)

	allocationRow, err := repo.AllocationFor(ctx, session.ProductID, input.VariantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodePrecondition, "variant allocation not configured")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocation")
	}

	ordered := variantOrdered(participants, input.VariantID)
	available := s.allocation.Available(allocationRow.AllocationQuantity, ordered, totals.humans, session.TargetMOQ)
	if input.Quantity > available {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "insufficient variant availability").
			WithDetails(map[string]any{"available": available})
	}

	newTotal := totals.all + input.Quantity
	newTier := s.pricing.TierFor(newTotal, session.TargetMOQ)
	unitPrice := s.pricing.UnitPriceFor(session, newTier)

	participant := &models.SessionParticipant{
		ID:                 uuid.New(),
		SessionID:          session.ID,
		UserID:             &input.UserID,
		VariantID:          input.VariantID,
		Quantity:           input.Quantity,
		UnitPriceAtJoin:    unitPrice,
		TotalPriceAtJoin:   unitPrice.Mul(decimalFromInt(input.Quantity)),
		EffectiveUnitPrice: unitPrice,
		IsBot:              false,
		Status:             enums.ParticipantStatusActive,
		JoinedAt:           now,
	}
	if err := repo.InsertParticipant(ctx, participant); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_session_participants_active_user") {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "user already joined this session")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert participant")
	}

	if newTier != session.CurrentTier {
		if err := s.applyTierShift(ctx, tx, repo, session, participants, newTier, newTotal); err != nil {
			return nil, err
		}
	}

	if err := s.maybeReachTarget(ctx, tx, repo, session, newTotal); err != nil {
		return nil, err
	}

	if ok, err := repo.UpdateSessionCAS(ctx, session, session.Version); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
	} else if !ok {
		return nil, errVersionConflict
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventParticipantJoined,
		AggregateType: enums.AggregateGroupSession,
		AggregateID:   session.ID,
		Version:       1,
		Actor:         &outbox.ActorRef{UserID: &input.UserID, Role: "buyer"},
		Data: payloads.ParticipantJoinedEvent{
			SessionID:     session.ID,
			ParticipantID: participant.ID,
			UserID:        participant.UserID,
			Quantity:      participant.Quantity,
			UnitPrice:     participant.UnitPriceAtJoin,
			Tier:          newTier,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit join event")
	}

	return &JoinResult{
		Participant: participant,
		Stats: StatsDTO{
			SessionID:         session.ID,
			Status:            session.Status,
			CurrentTier:       session.CurrentTier,
			UnitPrice:         s.pricing.UnitPriceFor(session, session.CurrentTier),
			TotalParticipants: totals.count + 1,
			TotalQuantity:     newTotal,
			TargetMOQ:         session.TargetMOQ,
			MOQProgress:       moqProgress(newTotal, session.TargetMOQ),
		},
	}, nil
}

// JoinBot appends a synthetic commitment. Bots bypass variant availability
// (they exist to unlock it, not consume it) but count toward the target.
func (s *service) JoinBot(ctx context.Context, sessionID uuid.UUID, quantity int) (*models.SessionParticipant, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var participant *models.SessionParticipant
	err := s.withVersionRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := time.Now()

		session, err := s.loadSession(ctx, repo, sessionID)
		if err != nil {
			return err
		}
		if session.Status != enums.SessionStatusActive {
			return pkgerrors.New(pkgerrors.CodePrecondition, "session is not active")
		}
		if !now.Before(session.EndTime) {
			return pkgerrors.New(pkgerrors.CodePrecondition, "session deadline has passed")
		}

		participants, err := repo.ActiveParticipants(ctx, session.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load participants")
		}
		totals := totalsOf(participants)

		newTotal := totals.all + quantity
		newTier := s.pricing.TierFor(newTotal, session.TargetMOQ)
		unitPrice := s.pricing.UnitPriceFor(session, newTier)

		participant = &models.SessionParticipant{
			ID:                 uuid.New(),
			SessionID:          session.ID,
			Quantity:           quantity,
			UnitPriceAtJoin:    unitPrice,
			TotalPriceAtJoin:   unitPrice.Mul(decimalFromInt(quantity)),
			EffectiveUnitPrice: unitPrice,
			IsBot:              true,
			Status:             enums.ParticipantStatusActive,
			JoinedAt:           now,
		}
		if err := repo.InsertParticipant(ctx, participant); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert bot participant")
		}

		if newTier != session.CurrentTier {
			if err := s.applyTierShift(ctx, tx, repo, session, participants, newTier, newTotal); err != nil {
				return err
			}
		}
		if err := s.maybeReachTarget(ctx, tx, repo, session, newTotal); err != nil {
			return err
		}

		if ok, err := repo.UpdateSessionCAS(ctx, session, session.Version); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
		} else if !ok {
			return errVersionConflict
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBotInjected,
			AggregateType: enums.AggregateGroupSession,
			AggregateID:   session.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{Role: "system"},
			Data: payloads.BotInjectedEvent{
				SessionID:     session.ID,
				ParticipantID: participant.ID,
				Quantity:      quantity,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

func (s *service) Leave(ctx context.Context, sessionID, userID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	return s.withVersionRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := time.Now()

		session, err := s.loadSession(ctx, repo, sessionID)
		if err != nil {
			return err
		}
		if session.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "session is already finalized")
		}

		before, err := repo.ActiveParticipants(ctx, sessionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load participants")
		}
		var leaving *models.SessionParticipant
		for i := range before {
			if before[i].UserID != nil && *before[i].UserID == userID {
				leaving = &before[i]
				break
			}
		}
		if leaving == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no active participation for user")
		}

		affected, err := repo.MarkParticipantsLeft(ctx, sessionID, userID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark participant left")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no active participation for user")
		}

		participants, err := repo.ActiveParticipants(ctx, sessionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load participants")
		}
		totals := totalsOf(participants)

		// Recompute the tier; shrinking pools shift the price back up for
		// future joiners, but already-issued credits are never clawed back.
		newTier := s.pricing.TierFor(totals.all, session.TargetMOQ)
		if newTier != session.CurrentTier {
			previousTier := session.CurrentTier
			session.CurrentTier = newTier
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventTierShifted,
				AggregateType: enums.AggregateGroupSession,
				AggregateID:   session.ID,
				Version:       1,
				Data: payloads.TierShiftedEvent{
					SessionID:     session.ID,
					PreviousTier:  previousTier,
					NewTier:       newTier,
					UnitPrice:     s.pricing.UnitPriceFor(session, newTier),
					TotalQuantity: totals.all,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit tier event")
			}
		}

		if session.Status == enums.SessionStatusMOQReached && totals.all < session.TargetMOQ && s.revertOnLeave {
			session.Status = enums.SessionStatusActive
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSessionReverted,
				AggregateType: enums.AggregateGroupSession,
				AggregateID:   session.ID,
				Version:       1,
				Data: payloads.SessionRevertedEvent{
					SessionID:      session.ID,
					TotalQuantity:  totals.all,
					TargetQuantity: session.TargetMOQ,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit revert event")
			}
		}

		if ok, err := repo.UpdateSessionCAS(ctx, session, session.Version); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
		} else if !ok {
			return errVersionConflict
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventParticipantLeft,
			AggregateType: enums.AggregateGroupSession,
			AggregateID:   session.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: &userID, Role: "buyer"},
			Data: payloads.ParticipantLeftEvent{
				SessionID:     session.ID,
				ParticipantID: leaving.ID,
				Quantity:      leaving.Quantity,
			},
		})
	})
}

func (s *service) Cancel(ctx context.Context, sessionID uuid.UUID, reason string) error {
	if sessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	return s.withVersionRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := time.Now()

		session, err := s.loadSession(ctx, repo, sessionID)
		if err != nil {
			return err
		}
		if !session.Status.CanTransitionTo(enums.SessionStatusCancelled) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "session cannot be cancelled in its current state")
		}

		session.Status = enums.SessionStatusCancelled
		if reason != "" {
			session.CancelReason = &reason
		}

		if err := repo.MarkActiveRefunded(ctx, sessionID, s.refundBots); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark participants refunded")
		}
		if err := s.escrow.EnqueueRefundSession(ctx, tx, sessionID, s.refundBots); err != nil {
			return err
		}

		if ok, err := repo.UpdateSessionCAS(ctx, session, session.Version); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
		} else if !ok {
			return errVersionConflict
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSessionCancelled,
			AggregateType: enums.AggregateGroupSession,
			AggregateID:   session.ID,
			Version:       1,
			Data: payloads.SessionCancelledEvent{
				SessionID:   session.ID,
				Reason:      reason,
				CancelledAt: now,
			},
		})
	})
}

func (s *service) Stats(ctx context.Context, sessionID uuid.UUID) (*StatsDTO, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	session, err := s.loadSession(ctx, s.repo, sessionID)
	if err != nil {
		return nil, err
	}
	participants, err := s.repo.ActiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load participants")
	}
	totals := totalsOf(participants)

	return &StatsDTO{
		SessionID:         session.ID,
		Status:            session.Status,
		CurrentTier:       session.CurrentTier,
		UnitPrice:         s.pricing.UnitPriceFor(session, session.CurrentTier),
		TotalParticipants: totals.count,
		TotalQuantity:     totals.all,
		TargetMOQ:         session.TargetMOQ,
		MOQProgress:       moqProgress(totals.all, session.TargetMOQ),
	}, nil
}

func (s *service) Availability(ctx context.Context, sessionID uuid.UUID, variantID *uuid.UUID) (*AvailabilityDTO, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	session, err := s.loadSession(ctx, s.repo, sessionID)
	if err != nil {
		return nil, err
	}
	allocationRow, err := s.repo.AllocationFor(ctx, session.ProductID, variantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodePrecondition, "variant allocation not configured")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocation")
	}
	participants, err := s.repo.ActiveParticipants(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load participants")
	}
	totals := totalsOf(participants)
	ordered := variantOrdered(participants, variantID)

	multiplier := s.allocation.Multiplier(totals.humans, session.TargetMOQ)
	maxAllowed := s.allocation.MaxAllowed(allocationRow.AllocationQuantity, totals.humans, session.TargetMOQ)
	available := s.allocation.Available(allocationRow.AllocationQuantity, ordered, totals.humans, session.TargetMOQ)

	return &AvailabilityDTO{
		SessionID:       session.ID,
		VariantID:       variantID,
		BaseAllocation:  allocationRow.AllocationQuantity,
		Multiplier:      multiplier,
		MaxAllowed:      maxAllowed,
		CurrentOrdered:  ordered,
		Available:       available,
		IsLocked:        available <= 0,
		MOQProgress:     moqProgress(totals.humans, session.TargetMOQ),
		ProgressBracket: s.allocation.Bracket(totals.humans, session.TargetMOQ),
	}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := pkgpagination.NormalizeLimit(params.Limit)
	cursor, err := cursorFromParams(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, listQuery{
		status: params.Status,
		limit:  pkgpagination.LimitWithBuffer(params.Limit),
		cursor: cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sessions")
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		// The cursor marks the last row handed out; the repository filters
		// strictly past it, so the next page starts at the row after.
		last := rows[limit-1]
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return &ListResult{Items: rows, Cursor: nextCursor}, nil
}

// ActivateDue opens forming sessions whose start time has arrived.
func (s *service) ActivateDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.FindDueForActivation(ctx, now, expiredBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find due sessions")
	}

	activated := 0
	var sweepErr error
	for _, candidate := range due {
		sessionID := candidate.ID
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			session, err := s.loadSession(ctx, repo, sessionID)
			if err != nil {
				return err
			}
			if session.Status != enums.SessionStatusForming {
				return nil
			}
			session.Status = enums.SessionStatusActive
			if ok, err := repo.UpdateSessionCAS(ctx, session, session.Version); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
			} else if !ok {
				// Another writer is mutating this session; next sweep retries.
				return nil
			}
			activated++
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSessionActivated,
				AggregateType: enums.AggregateGroupSession,
				AggregateID:   session.ID,
				Version:       1,
				Data: payloads.SessionActivatedEvent{
					SessionID: session.ID,
					ProductID: session.ProductID,
					StartTime: session.StartTime,
					EndTime:   session.EndTime,
				},
			})
		})
		if err != nil {
			sweepErr = appendErr(sweepErr, fmt.Errorf("activate session %s: %w", sessionID, err))
		}
	}
	return activated, sweepErr
}

// ProcessExpired finalizes every session whose deadline has passed: at or
// above target it completes, below target it fails and refunds. Running the
// sweep twice is harmless; already-terminal sessions are skipped.
func (s *service) ProcessExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.FindExpired(ctx, now, expiredBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expired sessions")
	}

	processed := 0
	var sweepErr error
	for _, candidate := range expired {
		sessionID := candidate.ID
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			session, err := s.loadSession(ctx, repo, sessionID)
			if err != nil {
				return err
			}
			if session.Status.IsTerminal() {
				return nil
			}

			participants, err := repo.ActiveParticipants(ctx, sessionID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load participants")
			}
			totals := totalsOf(participants)

			if totals.all >= session.TargetMOQ {
				if err := s.succeedSession(ctx, tx, repo, session, participants, totals); err != nil {
					return err
				}
			} else {
				if err := s.failSession(ctx, tx, repo, session, totals); err != nil {
					return err
				}
			}

			if ok, err := repo.UpdateSessionCAS(ctx, session, session.Version); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
			} else if !ok {
				return nil
			}
			processed++
			return nil
		})
		if err != nil {
			sweepErr = appendErr(sweepErr, fmt.Errorf("process expired session %s: %w", sessionID, err))
		}
	}
	return processed, sweepErr
}

func (s *service) StartProduction(ctx context.Context, sessionID uuid.UUID, estimatedCompletion *time.Time) error {
	if sessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	return s.withVersionRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		session, err := s.loadSession(ctx, repo, sessionID)
		if err != nil {
			return err
		}
		if session.Status != enums.SessionStatusSuccess {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "production requires a successful session")
		}
		if session.ProductionStartedAt != nil {
			return nil
		}

		now := time.Now()
		session.ProductionStartedAt = &now
		if estimatedCompletion != nil {
			session.EstimatedCompletionDate = estimatedCompletion
		}

		if ok, err := repo.UpdateSessionCAS(ctx, session, session.Version); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
		} else if !ok {
			return errVersionConflict
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductionStarted,
			AggregateType: enums.AggregateGroupSession,
			AggregateID:   session.ID,
			Version:       1,
			Data: payloads.ProductionStartedEvent{
				SessionID:               session.ID,
				EstimatedCompletionDate: session.EstimatedCompletionDate,
			},
		})
	})
}

func (s *service) CompleteProduction(ctx context.Context, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	return s.withVersionRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		session, err := s.loadSession(ctx, repo, sessionID)
		if err != nil {
			return err
		}
		if session.Status != enums.SessionStatusSuccess || session.ProductionStartedAt == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "production has not started")
		}
		if session.ProductionCompletedAt != nil {
			return nil
		}

		now := time.Now()
		session.ProductionCompletedAt = &now

		if ok, err := repo.UpdateSessionCAS(ctx, session, session.Version); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update session")
		} else if !ok {
			return errVersionConflict
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductionCompleted,
			AggregateType: enums.AggregateGroupSession,
			AggregateID:   session.ID,
			Version:       1,
			Data: payloads.ProductionCompletedEvent{
				SessionID:   session.ID,
				CompletedAt: now,
			},
		})
	})
}

// applyTierShift moves the session to the new tier and credits every active
// human participant whose effective price still sits above the new price.
// Bots never receive credits: their commitments are synthetic.
func (s *service) applyTierShift(ctx context.Context, tx *gorm.DB, repo *Repository, session *models.GroupSession, participants []models.SessionParticipant, newTier enums.PriceTier, newTotal int) error {
	previousTier := session.CurrentTier
	newPrice := s.pricing.UnitPriceFor(session, newTier)

	credits := make([]escrow.Credit, 0, len(participants))
	for _, p := range participants {
		if p.IsBot {
			continue
		}
		owed := s.pricing.RefundOwed(p.EffectiveUnitPrice, newPrice, p.Quantity)
		if owed.IsZero() {
			continue
		}
		credits = append(credits, escrow.Credit{
			ParticipantID: p.ID,
			Amount:        owed,
			Currency:      string(session.Currency),
		})
		if err := repo.UpdateParticipantEffectivePrice(ctx, p.ID, newPrice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update effective price")
		}
	}
	if len(credits) > 0 {
		if err := s.escrow.EnqueueRefundCredits(ctx, tx, session.ID, newTier, credits); err != nil {
			return err
		}
	}

	session.CurrentTier = newTier
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTierShifted,
		AggregateType: enums.AggregateGroupSession,
		AggregateID:   session.ID,
		Version:       1,
		Data: payloads.TierShiftedEvent{
			SessionID:     session.ID,
			PreviousTier:  previousTier,
			NewTier:       newTier,
			UnitPrice:     newPrice,
			TotalQuantity: newTotal,
		},
	})
}

// maybeReachTarget drives the moq_reached→success hop the moment the pool
// crosses its target. Both transitions happen in the same transaction;
// moq_reached exists for audit, not as a resting state.
func (s *service) maybeReachTarget(ctx context.Context, tx *gorm.DB, repo *Repository, session *models.GroupSession, newTotal int) error {
	if newTotal < session.TargetMOQ || session.Status == enums.SessionStatusSuccess {
		return nil
	}

	session.Status = enums.SessionStatusMOQReached
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSessionMOQReached,
		AggregateType: enums.AggregateGroupSession,
		AggregateID:   session.ID,
		Version:       1,
		Data: payloads.MOQReachedEvent{
			SessionID:      session.ID,
			TotalQuantity:  newTotal,
			TargetQuantity: session.TargetMOQ,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit moq event")
	}

	participants, err := repo.ActiveParticipants(ctx, session.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load participants")
	}
	totals := totalsOf(participants)
	return s.succeedSession(ctx, tx, repo, session, participants, totals)
}

// succeedSession finalizes a pool that met its target: escrow release and
// bulk order creation are enqueued durably; the worker performs the actual
// network calls after this transaction commits.
func (s *service) succeedSession(ctx context.Context, tx *gorm.DB, repo *Repository, session *models.GroupSession, participants []models.SessionParticipant, totals sessionTotals) error {
	session.Status = enums.SessionStatusSuccess

	if err := s.escrow.EnqueueRelease(ctx, tx, session.ID); err != nil {
		return err
	}
	if err := s.escrow.EnqueueCreateOrders(ctx, tx, session, participants); err != nil {
		return err
	}

	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSessionSucceeded,
		AggregateType: enums.AggregateGroupSession,
		AggregateID:   session.ID,
		Version:       1,
		Data: payloads.SessionSucceededEvent{
			SessionID:        session.ID,
			FinalTier:        session.CurrentTier,
			FinalUnitPrice:   s.pricing.UnitPriceFor(session, session.CurrentTier),
			TotalQuantity:    totals.all,
			ParticipantCount: totals.count,
		},
	})
}

func (s *service) failSession(ctx context.Context, tx *gorm.DB, repo *Repository, session *models.GroupSession, totals sessionTotals) error {
	session.Status = enums.SessionStatusFailed

	if err := repo.MarkActiveRefunded(ctx, session.ID, s.refundBots); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark participants refunded")
	}
	if err := s.escrow.EnqueueRefundSession(ctx, tx, session.ID, s.refundBots); err != nil {
		return err
	}

	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSessionFailed,
		AggregateType: enums.AggregateGroupSession,
		AggregateID:   session.ID,
		Version:       1,
		Data: payloads.SessionFailedEvent{
			SessionID:      session.ID,
			TotalQuantity:  totals.all,
			TargetQuantity: session.TargetMOQ,
		},
	})
}

// withVersionRetry reruns the whole operation from fresh state when an
// optimistic update loses its race, up to the configured attempt budget.
func (s *service) withVersionRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.tx.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, errVersionConflict) {
			continue
		}
		return err
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "session is being modified concurrently, retry")
}

func (s *service) loadSession(ctx context.Context, repo *Repository, sessionID uuid.UUID) (*models.GroupSession, error) {
	session, err := repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session")
	}
	return session, nil
}

func decimalFromInt(v int) decimal.Decimal {
	return decimal.NewFromInt(int64(v))
}

func moqProgress(total, target int) float64 {
	if target <= 0 {
		return 0
	}
	return float64(total) / float64(target)
}

func appendErr(existing, next error) error {
	if existing == nil {
		return next
	}
	return errors.Join(existing, next)
}
