package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/patungan-backend/internal/bots"
	"github.com/angelmondragon/patungan-backend/pkg/config"
	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

const stalledBatchSize = 100

type stalledSessionFinder interface {
	FindStalled(ctx context.Context, now, windowEnd time.Time, limit int) ([]models.GroupSession, error)
	ActiveParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.SessionParticipant, error)
}

type botJoiner interface {
	JoinBot(ctx context.Context, sessionID uuid.UUID, quantity int) (*models.SessionParticipant, error)
}

// BotInjectionJobParams configures the synthetic demand job.
type BotInjectionJobParams struct {
	Logger   *logger.Logger
	Repo     stalledSessionFinder
	Sessions botJoiner
	Bots     config.BotsConfig
}

// NewBotInjectionJob constructs the job that tops up stalled sessions with
// synthetic commitments shortly before their deadline.
func NewBotInjectionJob(params BotInjectionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("session repository required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session service required")
	}
	return &botInjectionJob{
		logg:     params.Logger,
		repo:     params.Repo,
		sessions: params.Sessions,
		injector: bots.NewInjector(params.Bots.WindowMinutes),
		enabled:  params.Bots.Enabled,
		window:   time.Duration(params.Bots.WindowMinutes) * time.Minute,
		now:      time.Now,
	}, nil
}

type botInjectionJob struct {
	logg     *logger.Logger
	repo     stalledSessionFinder
	sessions botJoiner
	injector *bots.Injector
	enabled  bool
	window   time.Duration
	now      func() time.Time
}

func (j *botInjectionJob) Name() string { return "bot-injection" }

func (j *botInjectionJob) Run(ctx context.Context) error {
	if !j.enabled {
		return nil
	}
	now := j.now().UTC()
	window := j.window
	if window <= 0 {
		window = 10 * time.Minute
	}

	candidates, err := j.repo.FindStalled(ctx, now, now.Add(window), stalledBatchSize)
	if err != nil {
		return fmt.Errorf("find stalled sessions: %w", err)
	}

	injected := 0
	var errs []error
	for _, session := range candidates {
		participants, err := j.repo.ActiveParticipants(ctx, session.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("load participants for %s: %w", session.ID, err))
			continue
		}
		pooled := 0
		for _, p := range participants {
			pooled += p.Quantity
		}
		if !j.injector.ShouldInject(pooled, session.TargetMOQ, now, session.EndTime) {
			continue
		}
		quantity := j.injector.Quantity(pooled, session.TargetMOQ)
		if quantity <= 0 {
			continue
		}
		if _, err := j.sessions.JoinBot(ctx, session.ID, quantity); err != nil {
			errs = append(errs, fmt.Errorf("inject bot into %s: %w", session.ID, err))
			continue
		}
		injected++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"injected":   injected,
	})
	j.logg.Info(logCtx, "bot injection sweep complete")
	return multierr.Combine(errs...)
}
