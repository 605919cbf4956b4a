package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

// sessionLifecycle is the slice of the session service the sweeper drives.
type sessionLifecycle interface {
	ActivateDue(ctx context.Context, now time.Time) (int, error)
	ProcessExpired(ctx context.Context, now time.Time) (int, error)
}

// SessionSweepJobParams configures the scheduled session lifecycle work.
type SessionSweepJobParams struct {
	Logger   *logger.Logger
	Sessions sessionLifecycle
}

// NewSessionSweepJob constructs the job that opens due sessions and finalizes
// expired ones.
func NewSessionSweepJob(params SessionSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session service required")
	}
	return &sessionSweepJob{
		logg:     params.Logger,
		sessions: params.Sessions,
		now:      time.Now,
	}, nil
}

type sessionSweepJob struct {
	logg     *logger.Logger
	sessions sessionLifecycle
	now      func() time.Time
}

func (j *sessionSweepJob) Name() string { return "session-sweep" }

func (j *sessionSweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs []error

	activated, err := j.sessions.ActivateDue(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("activate due sessions: %w", err))
	}
	expired, err := j.sessions.ProcessExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("process expired sessions: %w", err))
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"activated": activated,
		"finalized": expired,
	})
	j.logg.Info(logCtx, "session sweep complete")
	return multierr.Combine(errs...)
}
