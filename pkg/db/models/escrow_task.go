package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/patungan-backend/pkg/enums"
)

// EscrowTask is a durable outbound side effect owed to the payment or order
// subsystem. Tasks are enqueued in the same transaction as the session state
// change that requires them and executed at-least-once by the escrow worker.
type EscrowTask struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SessionID     uuid.UUID              `gorm:"column:session_id;type:uuid;not null;index"`
	TaskType      enums.EscrowTaskType   `gorm:"column:task_type;type:escrow_task_type;not null"`
	DedupKey      string                 `gorm:"column:dedup_key;not null"`
	Payload       json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	Status        enums.EscrowTaskStatus `gorm:"column:status;type:escrow_task_status;not null;default:'pending'"`
	AttemptCount  int                    `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                `gorm:"column:last_error"`
	NextAttemptAt time.Time              `gorm:"column:next_attempt_at;not null"`
	CompletedAt   *time.Time             `gorm:"column:completed_at"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
