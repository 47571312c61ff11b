package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"render-dispatch/internal/domain"
)

// scriptedFinder plays back one response per call, repeating the last.
type scriptedFinder struct {
	calls int
	steps []func() (*domain.RemoteRun, error)
}

func (f *scriptedFinder) Find(ctx context.Context, token string, dispatchedAt time.Time) (*domain.RemoteRun, error) {
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	return f.steps[i]()
}

func never() (*domain.RemoteRun, error) { return nil, nil }

func run(id int64, status domain.RunStatus, conclusion domain.Conclusion) func() (*domain.RemoteRun, error) {
	return func() (*domain.RemoteRun, error) {
		return &domain.RemoteRun{ID: id, Status: status, Conclusion: conclusion}, nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollTimesOutAfterBudget(t *testing.T) {
	finder := &scriptedFinder{steps: []func() (*domain.RemoteRun, error){never}}
	p := New(finder, nil, testLogger())

	interval := 25 * time.Millisecond
	timeout := 2 * interval

	start := time.Now()
	res, err := p.Poll(context.Background(), "tok", time.Now(), interval, timeout)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.TimedOut)
	assert.Nil(t, res.Run)
	// timeout = 2x interval with a correlator that never matches means
	// exactly two attempts, and the loop never blocks much past the budget
	assert.Equal(t, 2, finder.calls)
	assert.Less(t, elapsed, timeout+100*time.Millisecond)
}

func TestPollTerminalOnFirstCallReturnsImmediately(t *testing.T) {
	finder := &scriptedFinder{steps: []func() (*domain.RemoteRun, error){
		run(7, domain.RunStatusCompleted, domain.ConclusionSuccess),
	}}
	p := New(finder, nil, testLogger())

	start := time.Now()
	res, err := p.Poll(context.Background(), "tok", time.Now(), time.Second, 10*time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, res.Run)
	assert.False(t, res.TimedOut)
	assert.Equal(t, domain.ConclusionSuccess, res.Run.Conclusion)
	// no full interval sleep before the first attempt
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestPollSwallowsTransientErrors(t *testing.T) {
	finder := &scriptedFinder{steps: []func() (*domain.RemoteRun, error){
		func() (*domain.RemoteRun, error) { return nil, errors.New("connection refused") },
		run(7, domain.RunStatusCompleted, domain.ConclusionSuccess),
	}}
	p := New(finder, nil, testLogger())

	res, err := p.Poll(context.Background(), "tok", time.Now(), 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.Run)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 2, finder.calls)
}

func TestPollCancellationReturnsPromptly(t *testing.T) {
	finder := &scriptedFinder{steps: []func() (*domain.RemoteRun, error){never}}
	p := New(finder, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Poll(ctx, "tok", time.Now(), 5*time.Second, time.Minute)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.Canceled)
	// must not wait out the 5s sleep interval
	assert.Less(t, elapsed, time.Second)
}

func TestPollProgressFiresOnceTransitionInOrder(t *testing.T) {
	finder := &scriptedFinder{steps: []func() (*domain.RemoteRun, error){
		run(7, domain.RunStatusQueued, domain.ConclusionNone),
		run(7, domain.RunStatusQueued, domain.ConclusionNone),
		run(7, domain.RunStatusInProgress, domain.ConclusionNone),
		run(7, domain.RunStatusCompleted, domain.ConclusionSuccess),
	}}

	var seen []domain.RunStatus
	p := New(finder, func(r *domain.RemoteRun) {
		seen = append(seen, r.Status)
	}, testLogger())

	res, err := p.Poll(context.Background(), "tok", time.Now(), time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.Run)

	// one callback per observed transition, in observation order, no
	// duplicate for the repeated queued snapshot
	assert.Equal(t, []domain.RunStatus{
		domain.RunStatusQueued,
		domain.RunStatusInProgress,
		domain.RunStatusCompleted,
	}, seen)
}

func TestPollTimedOutCarriesLastSnapshot(t *testing.T) {
	finder := &scriptedFinder{steps: []func() (*domain.RemoteRun, error){
		run(7, domain.RunStatusInProgress, domain.ConclusionNone),
	}}
	p := New(finder, nil, testLogger())

	res, err := p.Poll(context.Background(), "tok", time.Now(), 10*time.Millisecond, 25*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	require.NotNil(t, res.Run)
	assert.Equal(t, domain.RunStatusInProgress, res.Run.Status)
}
