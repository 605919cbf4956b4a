package escrow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/patungan-backend/pkg/config"
	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/patungan-backend/pkg/errors"
	"github.com/angelmondragon/patungan-backend/pkg/fulfillment"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
	"github.com/angelmondragon/patungan-backend/pkg/payment"
)

type fakeTaskRepo struct {
	due       []models.EscrowTask
	succeeded []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	nextAt    []time.Time
}

func (f *fakeTaskRepo) FetchDue(_ context.Context, _ time.Time, _ int) ([]models.EscrowTask, error) {
	due := f.due
	f.due = nil
	return due, nil
}

func (f *fakeTaskRepo) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	f.succeeded = append(f.succeeded, id)
	return nil
}

func (f *fakeTaskRepo) MarkFailed(_ context.Context, id uuid.UUID, _ error, nextAttemptAt time.Time) error {
	f.failed = append(f.failed, id)
	f.nextAt = append(f.nextAt, nextAttemptAt)
	return nil
}

func (f *fakeTaskRepo) MarkTerminal(_ context.Context, id uuid.UUID, _ error) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakePayment struct {
	releases []payment.ReleaseInput
	refunds  []payment.RefundSessionInput
	credits  []payment.RefundCreditInput
	err      error
}

func (f *fakePayment) ReleaseEscrow(_ context.Context, input payment.ReleaseInput) error {
	f.releases = append(f.releases, input)
	return f.err
}

func (f *fakePayment) RefundSession(_ context.Context, input payment.RefundSessionInput) error {
	f.refunds = append(f.refunds, input)
	return f.err
}

func (f *fakePayment) RefundCredit(_ context.Context, input payment.RefundCreditInput) error {
	f.credits = append(f.credits, input)
	return f.err
}

type fakeFulfillment struct {
	orders []fulfillment.BulkOrderInput
	err    error
}

func (f *fakeFulfillment) CreateBulkOrders(_ context.Context, input fulfillment.BulkOrderInput) error {
	f.orders = append(f.orders, input)
	return f.err
}

func newDispatcherHarness(t *testing.T) (*Dispatcher, *fakeTaskRepo, *fakePayment, *fakeFulfillment) {
	t.Helper()

	repo := &fakeTaskRepo{}
	pay := &fakePayment{}
	ful := &fakeFulfillment{}
	d, err := NewDispatcher(DispatcherParams{
		Config: config.EscrowConfig{
			MaxAttempts:     1,
			BaseDelay:       time.Millisecond,
			MaxDelay:        10 * time.Millisecond,
			Multiplier:      2,
			TaskMaxAttempts: 3,
		},
		Logger:      logger.New(logger.Options{ServiceName: "test"}),
		Repo:        repo,
		Payment:     pay,
		Fulfillment: ful,
	})
	require.NoError(t, err)
	return d, repo, pay, ful
}

func releaseTask(t *testing.T, sessionID uuid.UUID) models.EscrowTask {
	t.Helper()

	payload, err := json.Marshal(ReleasePayload{SessionID: sessionID})
	require.NoError(t, err)
	return models.EscrowTask{
		ID:        uuid.New(),
		SessionID: sessionID,
		TaskType:  enums.EscrowTaskRelease,
		DedupKey:  "release:" + sessionID.String(),
		Payload:   payload,
		Status:    enums.EscrowTaskStatusPending,
	}
}

func TestDispatchReleaseSucceeds(t *testing.T) {
	d, repo, pay, _ := newDispatcherHarness(t)
	sessionID := uuid.New()
	task := releaseTask(t, sessionID)
	repo.due = []models.EscrowTask{task}

	processed, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	require.Len(t, pay.releases, 1)
	assert.Equal(t, sessionID, pay.releases[0].SessionID)
	// The dedup key doubles as the downstream idempotency key.
	assert.Equal(t, task.DedupKey, pay.releases[0].IdempotencyKey)
	assert.Equal(t, []uuid.UUID{task.ID}, repo.succeeded)
	assert.Empty(t, repo.failed)
}

func TestDispatchRetryableFailureReschedules(t *testing.T) {
	d, repo, pay, _ := newDispatcherHarness(t)
	pay.err = pkgerrors.New(pkgerrors.CodeDependency, "payment service unavailable")
	task := releaseTask(t, uuid.New())
	repo.due = []models.EscrowTask{task}

	before := time.Now()
	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Empty(t, repo.succeeded)
	assert.Empty(t, repo.terminal)
	require.Equal(t, []uuid.UUID{task.ID}, repo.failed)
	require.Len(t, repo.nextAt, 1)
	assert.True(t, repo.nextAt[0].After(before))
}

func TestDispatchNonRetryableFailureParksTask(t *testing.T) {
	d, repo, pay, _ := newDispatcherHarness(t)
	pay.err = pkgerrors.New(pkgerrors.CodeStateConflict, "escrow already released")
	task := releaseTask(t, uuid.New())
	repo.due = []models.EscrowTask{task}

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Empty(t, repo.failed)
	assert.Equal(t, []uuid.UUID{task.ID}, repo.terminal)
}

func TestDispatchParksAtMaxAttempts(t *testing.T) {
	d, repo, pay, _ := newDispatcherHarness(t)
	pay.err = pkgerrors.New(pkgerrors.CodeDependency, "payment service unavailable")
	task := releaseTask(t, uuid.New())
	task.AttemptCount = 2 // TaskMaxAttempts is 3; this failure is the last.
	repo.due = []models.EscrowTask{task}

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Empty(t, repo.failed)
	assert.Equal(t, []uuid.UUID{task.ID}, repo.terminal)
}

func TestDispatchMalformedPayloadIsTerminal(t *testing.T) {
	d, repo, _, _ := newDispatcherHarness(t)
	task := releaseTask(t, uuid.New())
	task.Payload = []byte(`{not-json`)
	repo.due = []models.EscrowTask{task}

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{task.ID}, repo.terminal)
}

func TestDispatchCreateOrders(t *testing.T) {
	d, repo, _, ful := newDispatcherHarness(t)
	sessionID := uuid.New()
	payload, err := json.Marshal(CreateOrdersPayload{
		SessionID: sessionID,
		ProductID: uuid.New(),
		Currency:  "IDR",
		Lines:     []fulfillment.OrderLine{{ParticipantID: uuid.New(), Quantity: 5}},
	})
	require.NoError(t, err)
	repo.due = []models.EscrowTask{{
		ID:        uuid.New(),
		SessionID: sessionID,
		TaskType:  enums.EscrowTaskCreateOrders,
		DedupKey:  "create_orders:" + sessionID.String(),
		Payload:   payload,
		Status:    enums.EscrowTaskStatusPending,
	}}

	_, err = d.ProcessBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, ful.orders, 1)
	assert.Equal(t, sessionID, ful.orders[0].SessionID)
	require.Len(t, ful.orders[0].Lines, 1)
}

func TestTaskBackoffIsCapped(t *testing.T) {
	d, _, _, _ := newDispatcherHarness(t)

	assert.Equal(t, time.Millisecond, d.taskBackoff(0))
	assert.Equal(t, 2*time.Millisecond, d.taskBackoff(1))
	assert.Equal(t, 10*time.Millisecond, d.taskBackoff(30))
}
