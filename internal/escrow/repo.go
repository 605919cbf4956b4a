package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
)

// Repository persists durable escrow tasks.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertTx(tx *gorm.DB, task *models.EscrowTask) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(task).Error
}

// FetchDue returns pending tasks whose next attempt time has arrived.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.EscrowTask, error) {
	var rows []models.EscrowTask
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.EscrowTaskStatusPending).
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.EscrowTask{}).
		Where("id = ? AND status = ?", id, enums.EscrowTaskStatusPending).
		Updates(map[string]any{
			"status":       enums.EscrowTaskStatusSucceeded,
			"completed_at": now,
		}).Error
}

// MarkFailed records a retryable failure and schedules the next attempt.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, taskErr error, nextAttemptAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.EscrowTask{}).
		Where("id = ? AND status = ?", id, enums.EscrowTaskStatusPending).
		Updates(map[string]any{
			"last_error":      taskErr.Error(),
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nextAttemptAt,
		}).Error
}

// MarkTerminal parks the task permanently; it requires manual reconciliation.
func (r *Repository) MarkTerminal(ctx context.Context, id uuid.UUID, taskErr error) error {
	return r.db.WithContext(ctx).Model(&models.EscrowTask{}).
		Where("id = ? AND status = ?", id, enums.EscrowTaskStatusPending).
		Updates(map[string]any{
			"status":        enums.EscrowTaskStatusTerminal,
			"last_error":    taskErr.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// ListBySession returns every task for one session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.EscrowTask, error) {
	var rows []models.EscrowTask
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}
