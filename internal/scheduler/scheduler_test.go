package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(testLogger())

	require.NoError(t, s.AddJob("0 30 22 * * MON-FRI", &countingJob{name: "a"}))
	require.NoError(t, s.AddJob("@every 1h", &countingJob{name: "b"}))

	err := s.AddJob("@every 1h", &countingJob{name: "a"})
	assert.ErrorContains(t, err, "already registered")

	err = s.AddJob("whenever", &countingJob{name: "c"})
	assert.ErrorContains(t, err, "invalid schedule")

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].Name)
	assert.Equal(t, "0 30 22 * * MON-FRI", statuses[0].Schedule)
	assert.True(t, statuses[0].LastRun.IsZero())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(testLogger())
	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	require.NoError(t, s.AddJob("@daily", ok))
	require.NoError(t, s.AddJob("@daily", failing))

	require.NoError(t, s.RunNow("ok"))
	assert.EqualError(t, s.RunNow("failing"), "boom")
	assert.ErrorIs(t, s.RunNow("missing"), ErrJobNotFound)

	assert.Equal(t, int32(1), ok.runs.Load())
	assert.Equal(t, int32(1), failing.runs.Load())

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "boom", statuses[0].LastError)
	assert.False(t, statuses[0].LastRun.IsZero())
	assert.Empty(t, statuses[1].LastError)
	assert.False(t, statuses[1].Running)
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := New(testLogger())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 1s", job))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	assert.False(t, s.Status()[0].NextRun.IsZero())
}

func TestPriceRefreshJob_Run(t *testing.T) {
	refresher := new(mockRefresher)
	refresher.On("Refresh", mock.Anything).Return(7, nil).Once()

	job := NewPriceRefreshJob(refresher, testLogger())
	assert.Equal(t, "price_refresh", job.Name())
	assert.NoError(t, job.Run())
	refresher.AssertExpectations(t)
}

func TestPriceRefreshJob_Error(t *testing.T) {
	refresher := new(mockRefresher)
	refresher.On("Refresh", mock.Anything).Return(2, errors.New("MSFT: rate limited")).Once()

	job := NewPriceRefreshJob(refresher, testLogger())
	assert.EqualError(t, job.Run(), "MSFT: rate limited")
}

func TestPriceRefreshJob_ThroughScheduler(t *testing.T) {
	refresher := new(mockRefresher)
	refresher.On("Refresh", mock.Anything).Return(3, nil)

	s := New(testLogger())
	require.NoError(t, s.AddJob("0 30 22 * * MON-FRI", NewPriceRefreshJob(refresher, testLogger())))
	require.NoError(t, s.RunNow("price_refresh"))

	refresher.AssertNumberOfCalls(t, "Refresh", 1)
}
