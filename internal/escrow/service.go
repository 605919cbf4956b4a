package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/patungan-backend/pkg/db"
	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	"github.com/angelmondragon/patungan-backend/pkg/fulfillment"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

// ReleasePayload asks for a session's escrow to be released to the seller.
type ReleasePayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// RefundSessionPayload refunds every participant of a failed or cancelled
// session.
type RefundSessionPayload struct {
	SessionID   uuid.UUID `json:"session_id"`
	IncludeBots bool      `json:"include_bots"`
}

// RefundCreditPayload credits one participant after a tier shift.
type RefundCreditPayload struct {
	SessionID     uuid.UUID       `json:"session_id"`
	ParticipantID uuid.UUID       `json:"participant_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// CreateOrdersPayload schedules production orders for a successful session.
type CreateOrdersPayload struct {
	SessionID               uuid.UUID               `json:"session_id"`
	ProductID               uuid.UUID               `json:"product_id"`
	Currency                string                  `json:"currency"`
	EstimatedCompletionDate *time.Time              `json:"estimated_completion_date,omitempty"`
	Lines                   []fulfillment.OrderLine `json:"lines"`
}

// Credit is one participant's refund owed after a tier shift.
type Credit struct {
	ParticipantID uuid.UUID
	Amount        decimal.Decimal
	Currency      string
}

// Service enqueues durable escrow tasks inside the caller's transaction.
// External calls never happen here; the dispatcher executes tasks later.
type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// EnqueueRelease queues the escrow release for a successful session.
func (s *Service) EnqueueRelease(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	return s.enqueue(ctx, tx, sessionID, enums.EscrowTaskRelease,
		fmt.Sprintf("release:%s", sessionID),
		ReleasePayload{SessionID: sessionID})
}

// EnqueueRefundSession queues a full refund of the session's escrow.
func (s *Service) EnqueueRefundSession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, includeBots bool) error {
	return s.enqueue(ctx, tx, sessionID, enums.EscrowTaskRefundSession,
		fmt.Sprintf("refund_session:%s", sessionID),
		RefundSessionPayload{SessionID: sessionID, IncludeBots: includeBots})
}

// EnqueueRefundCredits queues one credit task per participant owed money by a
// tier shift. The tier is part of the dedup key so a later, deeper shift can
// issue a second credit while retries of the same shift stay idempotent.
func (s *Service) EnqueueRefundCredits(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, tier enums.PriceTier, credits []Credit) error {
	for _, credit := range credits {
		err := s.enqueue(ctx, tx, sessionID, enums.EscrowTaskRefundCredit,
			fmt.Sprintf("refund_credit:%s:%s:%s", sessionID, credit.ParticipantID, tier),
			RefundCreditPayload{
				SessionID:     sessionID,
				ParticipantID: credit.ParticipantID,
				Amount:        credit.Amount,
				Currency:      credit.Currency,
			})
		if err != nil {
			return err
		}
	}
	return nil
}

// EnqueueCreateOrders queues the bulk production order for a successful
// session.
func (s *Service) EnqueueCreateOrders(ctx context.Context, tx *gorm.DB, session *models.GroupSession, participants []models.SessionParticipant) error {
	lines := make([]fulfillment.OrderLine, 0, len(participants))
	for _, p := range participants {
		lines = append(lines, fulfillment.OrderLine{
			ParticipantID: p.ID,
			UserID:        p.UserID,
			VariantID:     p.VariantID,
			Quantity:      p.Quantity,
			UnitPrice:     p.EffectiveUnitPrice,
			IsBot:         p.IsBot,
		})
	}
	return s.enqueue(ctx, tx, session.ID, enums.EscrowTaskCreateOrders,
		fmt.Sprintf("create_orders:%s", session.ID),
		CreateOrdersPayload{
			SessionID:               session.ID,
			ProductID:               session.ProductID,
			Currency:                string(session.Currency),
			EstimatedCompletionDate: session.EstimatedCompletionDate,
			Lines:                   lines,
		})
}

func (s *Service) enqueue(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, taskType enums.EscrowTaskType, dedupKey string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", taskType, err)
	}
	task := &models.EscrowTask{
		SessionID:     sessionID,
		TaskType:      taskType,
		DedupKey:      dedupKey,
		Payload:       raw,
		Status:        enums.EscrowTaskStatusPending,
		NextAttemptAt: time.Now(),
	}
	if err := s.repo.InsertTx(tx, task); err != nil {
		// Re-enqueueing the same side effect is a no-op.
		if dbpkg.IsUniqueViolation(err, "ux_escrow_tasks_dedup_key") {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"task_id":    task.ID.String(),
		"task_type":  taskType,
		"session_id": sessionID.String(),
	})
	s.logg.Info(logCtx, "escrow task queued")
	return nil
}
