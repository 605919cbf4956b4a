package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	pkgpagination "github.com/angelmondragon/patungan-backend/pkg/pagination"
)

// Repository wraps all session persistence. Mutating methods are expected to
// run inside a transaction via WithTx.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) CreateSession(ctx context.Context, session *models.GroupSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.GroupSession, error) {
	var session models.GroupSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSessionCAS persists the session's mutable columns guarded by the
// optimistic version counter. Returns false when another writer won the race.
func (r *Repository) UpdateSessionCAS(ctx context.Context, session *models.GroupSession, expectedVersion int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.GroupSession{}).
		Where("id = ? AND version = ?", session.ID, expectedVersion).
		Updates(map[string]any{
			"status":                    session.Status,
			"current_tier":              session.CurrentTier,
			"cancel_reason":             session.CancelReason,
			"estimated_completion_date": session.EstimatedCompletionDate,
			"production_started_at":     session.ProductionStartedAt,
			"production_completed_at":   session.ProductionCompletedAt,
			"version":                   expectedVersion + 1,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	session.Version = expectedVersion + 1
	return true, nil
}

type listQuery struct {
	status *enums.SessionStatus
	limit  int
	cursor *pkgpagination.Cursor
}

func (r *Repository) List(ctx context.Context, q listQuery) ([]models.GroupSession, error) {
	query := r.db.WithContext(ctx).Model(&models.GroupSession{})
	if q.status != nil {
		query = query.Where("status = ?", *q.status)
	}
	if q.cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", q.cursor.CreatedAt, q.cursor.ID)
	}
	var rows []models.GroupSession
	err := query.Order("created_at DESC").Order("id DESC").Limit(q.limit).Find(&rows).Error
	return rows, err
}

// FindExpired returns non-terminal sessions whose deadline has passed.
func (r *Repository) FindExpired(ctx context.Context, now time.Time, limit int) ([]models.GroupSession, error) {
	var rows []models.GroupSession
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.SessionStatus{
			enums.SessionStatusForming,
			enums.SessionStatusActive,
			enums.SessionStatusMOQReached,
		}).
		Where("end_time <= ?", now).
		Order("end_time ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindDueForActivation returns forming sessions whose open window has started.
func (r *Repository) FindDueForActivation(ctx context.Context, now time.Time, limit int) ([]models.GroupSession, error) {
	var rows []models.GroupSession
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.SessionStatusForming).
		Where("start_time <= ?", now).
		Where("end_time > ?", now).
		Order("start_time ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindStalled returns active sessions ending at or before the window cutoff,
// candidates for synthetic demand.
func (r *Repository) FindStalled(ctx context.Context, now, windowEnd time.Time, limit int) ([]models.GroupSession, error) {
	var rows []models.GroupSession
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.SessionStatusActive).
		Where("end_time > ?", now).
		Where("end_time <= ?", windowEnd).
		Order("end_time ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) InsertParticipant(ctx context.Context, participant *models.SessionParticipant) error {
	return r.db.WithContext(ctx).Create(participant).Error
}

// ActiveParticipants returns every active commitment, bots included.
func (r *Repository) ActiveParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.SessionParticipant, error) {
	var rows []models.SessionParticipant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, enums.ParticipantStatusActive).
		Order("joined_at ASC").
		Find(&rows).Error
	return rows, err
}

// MarkParticipantsLeft flags a user's active commitments as left. Returns the
// number of rows changed so callers can detect a no-op leave.
func (r *Repository) MarkParticipantsLeft(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("session_id = ? AND user_id = ? AND status = ?", sessionID, userID, enums.ParticipantStatusActive).
		Updates(map[string]any{
			"status":  enums.ParticipantStatusLeft,
			"left_at": at,
		})
	return res.RowsAffected, res.Error
}

// MarkActiveRefunded flags active commitments as refunded when a session
// fails or is cancelled. Bots are excluded unless includeBots is set.
func (r *Repository) MarkActiveRefunded(ctx context.Context, sessionID uuid.UUID, includeBots bool) error {
	query := r.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("session_id = ? AND status = ?", sessionID, enums.ParticipantStatusActive)
	if !includeBots {
		query = query.Where("is_bot = ?", false)
	}
	return query.Update("status", enums.ParticipantStatusRefunded).Error
}

func (r *Repository) UpdateParticipantEffectivePrice(ctx context.Context, participantID uuid.UUID, price decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&models.SessionParticipant{}).
		Where("id = ?", participantID).
		Update("effective_unit_price", price).Error
}

// AllocationFor looks up the factory-declared base allocation for the variant
// bucket (nil variantID is its own bucket).
func (r *Repository) AllocationFor(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (*models.VariantAllocation, error) {
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if variantID == nil {
		query = query.Where("variant_id IS NULL")
	} else {
		query = query.Where("variant_id = ?", *variantID)
	}
	var allocation models.VariantAllocation
	if err := query.First(&allocation).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *Repository) CreateAllocation(ctx context.Context, allocation *models.VariantAllocation) error {
	return r.db.WithContext(ctx).Create(allocation).Error
}

func (r *Repository) AllocationsForProduct(ctx context.Context, productID uuid.UUID) ([]models.VariantAllocation, error) {
	var rows []models.VariantAllocation
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
