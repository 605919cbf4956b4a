package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/patungan-backend/pkg/config"
	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

type fakeStalledFinder struct {
	stalled      []models.GroupSession
	participants map[uuid.UUID][]models.SessionParticipant
}

func (f *fakeStalledFinder) FindStalled(_ context.Context, _, _ time.Time, _ int) ([]models.GroupSession, error) {
	return f.stalled, nil
}

func (f *fakeStalledFinder) ActiveParticipants(_ context.Context, sessionID uuid.UUID) ([]models.SessionParticipant, error) {
	return f.participants[sessionID], nil
}

type fakeBotJoiner struct {
	joins map[uuid.UUID]int
}

func (f *fakeBotJoiner) JoinBot(_ context.Context, sessionID uuid.UUID, quantity int) (*models.SessionParticipant, error) {
	if f.joins == nil {
		f.joins = map[uuid.UUID]int{}
	}
	f.joins[sessionID] = quantity
	return &models.SessionParticipant{ID: uuid.New(), SessionID: sessionID, Quantity: quantity, IsBot: true}, nil
}

func newBotJob(t *testing.T, repo *fakeStalledFinder, joiner *fakeBotJoiner, cfg config.BotsConfig) Job {
	t.Helper()

	job, err := NewBotInjectionJob(BotInjectionJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Repo:     repo,
		Sessions: joiner,
		Bots:     cfg,
	})
	require.NoError(t, err)
	return job
}

func TestBotInjectionTopsUpStalledSession(t *testing.T) {
	now := time.Now()
	session := models.GroupSession{
		ID:        uuid.New(),
		TargetMOQ: 100,
		Status:    "active",
		EndTime:   now.Add(5 * time.Minute),
	}
	repo := &fakeStalledFinder{
		stalled: []models.GroupSession{session},
		participants: map[uuid.UUID][]models.SessionParticipant{
			session.ID: {{Quantity: 20}},
		},
	}
	joiner := &fakeBotJoiner{}
	job := newBotJob(t, repo, joiner, config.BotsConfig{Enabled: true, WindowMinutes: 10})

	require.NoError(t, job.Run(context.Background()))
	// 20 of 100 is stalled; top up to 25.
	assert.Equal(t, 5, joiner.joins[session.ID])
}

func TestBotInjectionSkipsHealthySession(t *testing.T) {
	now := time.Now()
	session := models.GroupSession{
		ID:        uuid.New(),
		TargetMOQ: 100,
		Status:    "active",
		EndTime:   now.Add(5 * time.Minute),
	}
	repo := &fakeStalledFinder{
		stalled: []models.GroupSession{session},
		participants: map[uuid.UUID][]models.SessionParticipant{
			session.ID: {{Quantity: 30}},
		},
	}
	joiner := &fakeBotJoiner{}
	job := newBotJob(t, repo, joiner, config.BotsConfig{Enabled: true, WindowMinutes: 10})

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, joiner.joins)
}

func TestBotInjectionDisabled(t *testing.T) {
	repo := &fakeStalledFinder{stalled: []models.GroupSession{{ID: uuid.New(), TargetMOQ: 100}}}
	joiner := &fakeBotJoiner{}
	job := newBotJob(t, repo, joiner, config.BotsConfig{Enabled: false, WindowMinutes: 10})

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, joiner.joins)
}
