package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/patungan-backend/pkg/enums"
)

// SessionActivatedEvent signals a session opened for joins.
type SessionActivatedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	ProductID uuid.UUID `json:"product_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// MOQReachedEvent is emitted the moment pooled quantity crosses the target.
type MOQReachedEvent struct {
	SessionID      uuid.UUID `json:"session_id"`
	TotalQuantity  int       `json:"total_quantity"`
	TargetQuantity int       `json:"target_quantity"`
}

// SessionSucceededEvent surfaces the final terms of a completed pool.
type SessionSucceededEvent struct {
	SessionID        uuid.UUID       `json:"session_id"`
	FinalTier        enums.PriceTier `json:"final_tier"`
	FinalUnitPrice   decimal.Decimal `json:"final_unit_price"`
	TotalQuantity    int             `json:"total_quantity"`
	ParticipantCount int             `json:"participant_count"`
}

// SessionFailedEvent is emitted when the deadline passes below target.
type SessionFailedEvent struct {
	SessionID      uuid.UUID `json:"session_id"`
	TotalQuantity  int       `json:"total_quantity"`
	TargetQuantity int       `json:"target_quantity"`
}

// SessionCancelledEvent is emitted on operator cancellation.
type SessionCancelledEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// SessionRevertedEvent reports a pool dropping back below its target.
type SessionRevertedEvent struct {
	SessionID      uuid.UUID `json:"session_id"`
	TotalQuantity  int       `json:"total_quantity"`
	TargetQuantity int       `json:"target_quantity"`
}

// ParticipantJoinedEvent is emitted for every accepted commitment.
type ParticipantJoinedEvent struct {
	SessionID     uuid.UUID       `json:"session_id"`
	ParticipantID uuid.UUID       `json:"participant_id"`
	UserID        *uuid.UUID      `json:"user_id,omitempty"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Tier          enums.PriceTier `json:"tier"`
}

// ParticipantLeftEvent is emitted when a participant withdraws.
type ParticipantLeftEvent struct {
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Quantity      int       `json:"quantity"`
}

// TierShiftedEvent reports a pricing tier crossing in either direction.
type TierShiftedEvent struct {
	SessionID     uuid.UUID       `json:"session_id"`
	PreviousTier  enums.PriceTier `json:"previous_tier"`
	NewTier       enums.PriceTier `json:"new_tier"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalQuantity int             `json:"total_quantity"`
}

// BotInjectedEvent records synthetic demand added to a stalled session.
type BotInjectedEvent struct {
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Quantity      int       `json:"quantity"`
}

// ProductionStartedEvent is emitted when the seller begins manufacturing.
type ProductionStartedEvent struct {
	SessionID               uuid.UUID  `json:"session_id"`
	EstimatedCompletionDate *time.Time `json:"estimated_completion_date,omitempty"`
}

// ProductionCompletedEvent closes out the production phase.
type ProductionCompletedEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	CompletedAt time.Time `json:"completed_at"`
}
