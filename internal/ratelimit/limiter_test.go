package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
	"github.com/npezzotti/go-roster/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *database.MemoryStore {
	store, err := database.NewMemoryStore()
	require.NoError(t, err)
	return store
}

// attempt checks the limiter and, if allowed, logs an attempt, as a join does.
func attempt(t *testing.T, store database.Store, l *Limiter, userId string, now time.Time) error {
	var limited error
	err := store.Update(context.Background(), func(tx database.Tx) error {
		if limited = l.Check(tx, userId, now); limited != nil {
			return nil
		}
		return l.Log(tx, userId, false, now)
	})
	require.NoError(t, err)
	return limited
}

func TestLimiterCheck(t *testing.T) {
	store := newStore(t)
	l := NewLimiter()
	clock := testutil.NewClock(epoch)

	for i := range DefaultMaxAttempts {
		assert.NoError(t, attempt(t, store, l, "alice", clock.Now()), "attempt %d should be allowed", i+1)
		clock.Advance(10 * time.Second)
	}

	err := attempt(t, store, l, "alice", clock.Now())
	require.ErrorIs(t, err, apperrors.ErrRateLimited)
	assert.Contains(t, err.Error(), "wait 5 minutes")

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 4*time.Minute+10*time.Second, appErr.RetryAfter,
		"expected retry hint to count down to the oldest attempt leaving the window")

	assert.NoError(t, attempt(t, store, l, "bob", clock.Now()), "expected other users to be unaffected")

	clock.Advance(DefaultWindow)
	assert.NoError(t, attempt(t, store, l, "alice", clock.Now()), "expected attempt to be allowed after the window")
}

func TestLimiterRejectedCallsAreNotLogged(t *testing.T) {
	store := newStore(t)
	l := NewLimiter()

	for range DefaultMaxAttempts {
		require.NoError(t, attempt(t, store, l, "alice", epoch))
	}
	for range 3 {
		require.Error(t, attempt(t, store, l, "alice", epoch))
	}

	_ = store.View(context.Background(), func(tx database.Tx) error {
		attempts, err := tx.ListJoinAttemptsSince("alice", epoch.Add(-time.Hour))
		require.NoError(t, err)
		assert.Len(t, attempts, DefaultMaxAttempts)
		return nil
	})
}

func TestLimiterPrune(t *testing.T) {
	store := newStore(t)
	l := NewLimiter()

	require.NoError(t, store.Update(context.Background(), func(tx database.Tx) error {
		for _, at := range []time.Time{epoch.Add(-48 * time.Hour), epoch.Add(-25 * time.Hour), epoch.Add(-time.Minute)} {
			if err := l.Log(tx, "alice", true, at); err != nil {
				return err
			}
		}
		return nil
	}))

	tcases := []struct {
		name      string
		retention time.Duration
		expected  int
	}{
		{name: "keeps recent", retention: 24 * time.Hour, expected: 2},
		{name: "retention below window is raised", retention: time.Second, expected: 0},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var n int
			err := store.Update(context.Background(), func(tx database.Tx) error {
				var err error
				n, err = l.Prune(tx, tc.retention, epoch)
				return err
			})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, n)
		})
	}
}

func TestJanitorSweep(t *testing.T) {
	store := newStore(t)
	l := NewLimiter()
	require.NoError(t, store.Update(context.Background(), func(tx database.Tx) error {
		return l.Log(tx, "alice", false, epoch.Add(-30*time.Hour))
	}))

	j := NewJanitor(store, l, 0, testutil.TestLogger(t))
	assert.Equal(t, DefaultRetention, j.retention)
	j.now = func() time.Time { return epoch }

	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJanitorSweepStoreError(t *testing.T) {
	mockStore := new(database.MockStore)
	mockStore.On("Update", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	j := NewJanitor(mockStore, NewLimiter(), time.Hour, testutil.TestLogger(t))
	_, err := j.Sweep(context.Background())
	assert.EqualError(t, err, "db down")
	mockStore.AssertExpectations(t)
}

func TestJanitorRunStop(t *testing.T) {
	j := NewJanitor(newStore(t), NewLimiter(), time.Hour, testutil.TestLogger(t))
	j.interval = time.Millisecond
	j.Run()

	time.Sleep(10 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		j.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected janitor to stop")
	}
}
