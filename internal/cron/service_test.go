package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/patungan-backend/pkg/logger"
)

type fakeLock struct {
	acquired bool
	releases int
}

func (l *fakeLock) Acquire(context.Context) (bool, error) {
	return l.acquired, nil
}

func (l *fakeLock) Release(context.Context) error {
	l.releases++
	return nil
}

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func newCronService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()

	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleExecutesJobsUnderLock(t *testing.T) {
	lock := &fakeLock{acquired: true}
	first := &countingJob{name: "first"}
	second := &countingJob{name: "second", err: errors.New("boom")}
	svc := newCronService(t, lock, first, second)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 1, first.runs)
	// A failing job does not abort the cycle, and the lock is still released.
	assert.Equal(t, 1, second.runs)
	assert.Equal(t, 1, lock.releases)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	lock := &fakeLock{acquired: false}
	job := &countingJob{name: "skipped"}
	svc := newCronService(t, lock, job)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Equal(t, 0, job.runs)
	assert.Equal(t, 0, lock.releases)
}
