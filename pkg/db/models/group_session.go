package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/patungan-backend/pkg/enums"
)

// GroupSession represents one pooled-purchase instance working toward its MOQ.
type GroupSession struct {
	ID                      uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID               uuid.UUID            `gorm:"column:product_id;type:uuid;not null"`
	FactoryID               uuid.UUID            `gorm:"column:factory_id;type:uuid;not null"`
	TargetMOQ               int                  `gorm:"column:target_moq;not null"`
	BasePrice               decimal.Decimal      `gorm:"column:base_price;type:numeric(16,2);not null"`
	Tier1Price              decimal.Decimal      `gorm:"column:tier1_price;type:numeric(16,2);not null"`
	Tier2Price              decimal.Decimal      `gorm:"column:tier2_price;type:numeric(16,2);not null"`
	Tier3Price              decimal.Decimal      `gorm:"column:tier3_price;type:numeric(16,2);not null"`
	Currency                enums.Currency       `gorm:"column:currency;type:text;not null;default:'IDR'"`
	CurrentTier             enums.PriceTier      `gorm:"column:current_tier;type:price_tier;not null;default:'base'"`
	Status                  enums.SessionStatus  `gorm:"column:status;type:session_status;not null;default:'forming'"`
	StartTime               time.Time            `gorm:"column:start_time;not null"`
	EndTime                 time.Time            `gorm:"column:end_time;not null"`
	EstimatedCompletionDate *time.Time           `gorm:"column:estimated_completion_date"`
	CancelReason            *string              `gorm:"column:cancel_reason"`
	ProductionStartedAt     *time.Time           `gorm:"column:production_started_at"`
	ProductionCompletedAt   *time.Time           `gorm:"column:production_completed_at"`
	Version                 int                  `gorm:"column:version;not null;default:0"`
	Participants            []SessionParticipant `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	CreatedAt               time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
