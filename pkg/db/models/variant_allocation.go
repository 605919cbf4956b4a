package models

import (
	"time"

	"github.com/google/uuid"
)

// VariantAllocation is the factory-declared base allocation share for one
// product variant (a nil VariantID means the product has no variant axis).
type VariantAllocation struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID          uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index"`
	VariantID          *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	AllocationQuantity int        `gorm:"column:allocation_quantity;not null"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
