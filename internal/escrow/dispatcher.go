package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/patungan-backend/pkg/config"
	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	"github.com/angelmondragon/patungan-backend/pkg/fulfillment"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
	"github.com/angelmondragon/patungan-backend/pkg/metrics"
	"github.com/angelmondragon/patungan-backend/pkg/payment"
	"github.com/angelmondragon/patungan-backend/pkg/retry"
)

const dispatcherJobName = "escrow_dispatcher"

type paymentClient interface {
	ReleaseEscrow(ctx context.Context, input payment.ReleaseInput) error
	RefundSession(ctx context.Context, input payment.RefundSessionInput) error
	RefundCredit(ctx context.Context, input payment.RefundCreditInput) error
}

type fulfillmentClient interface {
	CreateBulkOrders(ctx context.Context, input fulfillment.BulkOrderInput) error
}

type taskRepository interface {
	FetchDue(ctx context.Context, now time.Time, limit int) ([]models.EscrowTask, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, taskErr error, nextAttemptAt time.Time) error
	MarkTerminal(ctx context.Context, id uuid.UUID, taskErr error) error
}

// DispatcherParams wires the escrow dispatcher's dependencies.
type DispatcherParams struct {
	Config      config.EscrowConfig
	Logger      *logger.Logger
	Repo        taskRepository
	Payment     paymentClient
	Fulfillment fulfillmentClient
	Metrics     *metrics.JobMetrics
}

// Dispatcher drains pending escrow tasks and executes them against the
// payment and fulfillment services. Tasks run outside any session lock or
// transaction; at-least-once delivery is fine because every call carries an
// idempotency key.
type Dispatcher struct {
	cfg         config.EscrowConfig
	logg        *logger.Logger
	repo        taskRepository
	payment     paymentClient
	fulfillment fulfillmentClient
	metrics     *metrics.JobMetrics
	policy      retry.Policy
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repo == nil {
		return nil, errors.New("task repository required")
	}
	if params.Payment == nil {
		return nil, errors.New("payment client required")
	}
	if params.Fulfillment == nil {
		return nil, errors.New("fulfillment client required")
	}

	policy := retry.NewPolicy(
		params.Config.MaxAttempts,
		params.Config.BaseDelay,
		params.Config.MaxDelay,
		params.Config.Multiplier,
		payment.IsRetryable,
	)

	return &Dispatcher{
		cfg:         params.Config,
		logg:        params.Logger,
		repo:        params.Repo,
		payment:     params.Payment,
		fulfillment: params.Fulfillment,
		metrics:     params.Metrics,
		policy:      policy,
	}, nil
}

// Run polls for due tasks until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := time.Duration(d.cfg.DispatchPollMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "escrow dispatcher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := d.ProcessBatch(ctx)
		if err != nil {
			d.logg.Error(ctx, "escrow dispatch batch error", err)
		}
		if processed > 0 {
			continue
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ProcessBatch executes one batch of due tasks and returns how many it saw.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	batch := d.cfg.DispatchBatchSize
	if batch <= 0 {
		batch = 25
	}
	tasks, err := d.repo.FetchDue(ctx, time.Now(), batch)
	if err != nil {
		return 0, fmt.Errorf("fetch due escrow tasks: %w", err)
	}

	for _, task := range tasks {
		start := time.Now()
		if err := d.dispatch(ctx, task); err != nil {
			d.metrics.IncFailure(dispatcherJobName)
			d.handleFailure(ctx, task, err)
		} else {
			d.metrics.IncSuccess(dispatcherJobName)
			if markErr := d.repo.MarkSucceeded(ctx, task.ID); markErr != nil {
				d.logg.Error(ctx, "mark escrow task succeeded", markErr)
			}
		}
		d.metrics.ObserveDuration(dispatcherJobName, time.Since(start))
	}
	return len(tasks), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, task models.EscrowTask) error {
	switch task.TaskType {
	case enums.EscrowTaskRelease:
		var p ReleasePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nonRetryable(fmt.Errorf("decode release payload: %w", err))
		}
		return d.policy.Do(ctx, func(ctx context.Context) error {
			return d.payment.ReleaseEscrow(ctx, payment.ReleaseInput{
				SessionID:      p.SessionID,
				IdempotencyKey: task.DedupKey,
			})
		})

	case enums.EscrowTaskRefundSession:
		var p RefundSessionPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nonRetryable(fmt.Errorf("decode refund session payload: %w", err))
		}
		return d.policy.Do(ctx, func(ctx context.Context) error {
			return d.payment.RefundSession(ctx, payment.RefundSessionInput{
				SessionID:      p.SessionID,
				IncludeBots:    p.IncludeBots,
				IdempotencyKey: task.DedupKey,
			})
		})

	case enums.EscrowTaskRefundCredit:
		var p RefundCreditPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nonRetryable(fmt.Errorf("decode refund credit payload: %w", err))
		}
		return d.policy.Do(ctx, func(ctx context.Context) error {
			return d.payment.RefundCredit(ctx, payment.RefundCreditInput{
				SessionID:      p.SessionID,
				ParticipantID:  p.ParticipantID,
				Amount:         p.Amount,
				Currency:       p.Currency,
				IdempotencyKey: task.DedupKey,
			})
		})

	case enums.EscrowTaskCreateOrders:
		var p CreateOrdersPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nonRetryable(fmt.Errorf("decode create orders payload: %w", err))
		}
		return d.policy.Do(ctx, func(ctx context.Context) error {
			return d.fulfillment.CreateBulkOrders(ctx, fulfillment.BulkOrderInput{
				SessionID:               p.SessionID,
				ProductID:               p.ProductID,
				Currency:                p.Currency,
				EstimatedCompletionDate: p.EstimatedCompletionDate,
				Lines:                   p.Lines,
				IdempotencyKey:          task.DedupKey,
			})
		})

	default:
		return nonRetryable(fmt.Errorf("unsupported escrow task type %s", task.TaskType))
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, task models.EscrowTask, taskErr error) {
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"task_id":       task.ID.String(),
		"task_type":     task.TaskType,
		"session_id":    task.SessionID.String(),
		"attempt_count": task.AttemptCount + 1,
	})

	maxAttempts := d.cfg.TaskMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 20
	}

	terminal := !payment.IsRetryable(taskErr) || isNonRetryable(taskErr)
	if !terminal && task.AttemptCount+1 >= maxAttempts {
		terminal = true
		taskErr = fmt.Errorf("max task attempts reached: %w", taskErr)
	}

	if terminal {
		// The session's own transition already happened; a parked task is an
		// operational incident needing reconciliation, not a state rollback.
		d.logg.Error(logCtx, "escrow task parked", taskErr)
		if err := d.repo.MarkTerminal(ctx, task.ID, taskErr); err != nil {
			d.logg.Error(ctx, "mark escrow task terminal", err)
		}
		return
	}

	next := time.Now().Add(d.taskBackoff(task.AttemptCount))
	d.logg.Warn(d.logg.WithField(logCtx, "next_attempt_at", next), "escrow task failed, will retry")
	if err := d.repo.MarkFailed(ctx, task.ID, taskErr, next); err != nil {
		d.logg.Error(ctx, "mark escrow task failed", err)
	}
}

// taskBackoff spaces out redeliveries across dispatcher polls, on top of the
// in-process retry policy that already ran inside dispatch.
func (d *Dispatcher) taskBackoff(attempt int) time.Duration {
	base := d.cfg.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := d.cfg.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > max {
		return max
	}
	return delay
}

type nonRetryableError struct {
	err error
}

func (e nonRetryableError) Error() string { return e.err.Error() }
func (e nonRetryableError) Unwrap() error { return e.err }

func nonRetryable(err error) error {
	return nonRetryableError{err: err}
}

func isNonRetryable(err error) bool {
	var typed nonRetryableError
	return errors.As(err, &typed)
}
