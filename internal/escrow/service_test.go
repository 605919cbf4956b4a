package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

func setupEscrowTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	tasks := `
CREATE TABLE IF NOT EXISTS escrow_tasks (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  task_type TEXT NOT NULL,
  dedup_key TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  next_attempt_at DATETIME NOT NULL,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	dedupIdx := `
CREATE UNIQUE INDEX IF NOT EXISTS ux_escrow_tasks_dedup_key
  ON escrow_tasks(dedup_key);`
	require.NoError(t, db.Exec(tasks).Error)
	require.NoError(t, db.Exec(dedupIdx).Error)
	return db
}

func newEscrowService(t *testing.T) (*Service, *Repository, *gorm.DB) {
	t.Helper()

	db := setupEscrowTestDB(t)
	repo := NewRepository(db)
	svc, err := NewService(repo, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	return svc, repo, db
}

func countTasks(t *testing.T, db *gorm.DB, sessionID uuid.UUID) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&models.EscrowTask{}).Where("session_id = ?", sessionID).Count(&n).Error)
	return n
}

func TestEnqueueReleaseIsIdempotent(t *testing.T) {
	svc, _, db := newEscrowService(t)
	sessionID := uuid.New()
	ctx := context.Background()

	require.NoError(t, svc.EnqueueRelease(ctx, db, sessionID))
	// Re-enqueueing the same side effect must be a silent no-op.
	require.NoError(t, svc.EnqueueRelease(ctx, db, sessionID))

	assert.Equal(t, int64(1), countTasks(t, db, sessionID))
}

func TestEnqueueRefundCreditsKeyedByTier(t *testing.T) {
	svc, _, db := newEscrowService(t)
	sessionID := uuid.New()
	participantID := uuid.New()
	ctx := context.Background()

	credit := []Credit{{ParticipantID: participantID, Amount: decimal.NewFromInt(480000), Currency: "IDR"}}
	require.NoError(t, svc.EnqueueRefundCredits(ctx, db, sessionID, enums.PriceTierOne, credit))
	require.NoError(t, svc.EnqueueRefundCredits(ctx, db, sessionID, enums.PriceTierOne, credit))
	// A deeper shift owes a fresh credit under its own key.
	require.NoError(t, svc.EnqueueRefundCredits(ctx, db, sessionID, enums.PriceTierTwo, credit))

	assert.Equal(t, int64(2), countTasks(t, db, sessionID))
}

func TestEnqueueCreateOrdersBuildsLines(t *testing.T) {
	svc, repo, db := newEscrowService(t)
	ctx := context.Background()

	userID := uuid.New()
	session := &models.GroupSession{
		ID:        uuid.New(),
		ProductID: uuid.New(),
		Currency:  enums.CurrencyIDR,
	}
	participants := []models.SessionParticipant{
		{
			ID:                 uuid.New(),
			SessionID:          session.ID,
			UserID:             &userID,
			Quantity:           5,
			EffectiveUnitPrice: decimal.NewFromInt(90000),
		},
		{
			ID:                 uuid.New(),
			SessionID:          session.ID,
			Quantity:           3,
			EffectiveUnitPrice: decimal.NewFromInt(90000),
			IsBot:              true,
		},
	}

	require.NoError(t, svc.EnqueueCreateOrders(ctx, db, session, participants))

	tasks, err := repo.ListBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, enums.EscrowTaskCreateOrders, tasks[0].TaskType)
	assert.Contains(t, string(tasks[0].Payload), userID.String())
}

func TestFetchDueSkipsFutureAndNonPending(t *testing.T) {
	_, repo, db := newEscrowService(t)
	ctx := context.Background()
	now := time.Now()

	due := &models.EscrowTask{
		ID: uuid.New(), SessionID: uuid.New(), TaskType: enums.EscrowTaskRelease,
		DedupKey: "a", Payload: []byte(`{}`), Status: enums.EscrowTaskStatusPending,
		NextAttemptAt: now.Add(-time.Minute),
	}
	future := &models.EscrowTask{
		ID: uuid.New(), SessionID: uuid.New(), TaskType: enums.EscrowTaskRelease,
		DedupKey: "b", Payload: []byte(`{}`), Status: enums.EscrowTaskStatusPending,
		NextAttemptAt: now.Add(time.Hour),
	}
	done := &models.EscrowTask{
		ID: uuid.New(), SessionID: uuid.New(), TaskType: enums.EscrowTaskRelease,
		DedupKey: "c", Payload: []byte(`{}`), Status: enums.EscrowTaskStatusSucceeded,
		NextAttemptAt: now.Add(-time.Minute),
	}
	for _, task := range []*models.EscrowTask{due, future, done} {
		require.NoError(t, db.Create(task).Error)
	}

	rows, err := repo.FetchDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)
}

func TestMarkFailedSchedulesRetry(t *testing.T) {
	_, repo, db := newEscrowService(t)
	ctx := context.Background()

	task := &models.EscrowTask{
		ID: uuid.New(), SessionID: uuid.New(), TaskType: enums.EscrowTaskRelease,
		DedupKey: "retry-me", Payload: []byte(`{}`), Status: enums.EscrowTaskStatusPending,
		NextAttemptAt: time.Now(),
	}
	require.NoError(t, db.Create(task).Error)

	next := time.Now().Add(5 * time.Second)
	require.NoError(t, repo.MarkFailed(ctx, task.ID, assert.AnError, next))

	var reloaded models.EscrowTask
	require.NoError(t, db.Where("id = ?", task.ID).First(&reloaded).Error)
	assert.Equal(t, enums.EscrowTaskStatusPending, reloaded.Status)
	assert.Equal(t, 1, reloaded.AttemptCount)
	require.NotNil(t, reloaded.LastError)

	require.NoError(t, repo.MarkTerminal(ctx, task.ID, assert.AnError))
	require.NoError(t, db.Where("id = ?", task.ID).First(&reloaded).Error)
	assert.Equal(t, enums.EscrowTaskStatusTerminal, reloaded.Status)
	assert.Equal(t, 2, reloaded.AttemptCount)
}
