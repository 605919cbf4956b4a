package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/patungan-backend/pkg/enums"
)

// SessionParticipant is one buyer's (or bot's) commitment inside a session.
// Participants carry no back-pointer to their session; callers look them up
// by session id.
type SessionParticipant struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID uuid.UUID  `gorm:"column:session_id;type:uuid;not null;index"`
	UserID    *uuid.UUID `gorm:"column:user_id;type:uuid"`
	VariantID *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Quantity  int        `gorm:"column:quantity;not null"`
	// UnitPriceAtJoin is immutable; retroactive tier discounts are issued as
	// refund credits and tracked via EffectiveUnitPrice.
	UnitPriceAtJoin    decimal.Decimal         `gorm:"column:unit_price_at_join;type:numeric(16,2);not null"`
	TotalPriceAtJoin   decimal.Decimal         `gorm:"column:total_price_at_join;type:numeric(16,2);not null"`
	EffectiveUnitPrice decimal.Decimal         `gorm:"column:effective_unit_price;type:numeric(16,2);not null"`
	IsBot              bool                    `gorm:"column:is_bot;not null;default:false"`
	Status             enums.ParticipantStatus `gorm:"column:status;type:participant_status;not null;default:'active'"`
	JoinedAt           time.Time               `gorm:"column:joined_at;autoCreateTime"`
	LeftAt             *time.Time              `gorm:"column:left_at"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
