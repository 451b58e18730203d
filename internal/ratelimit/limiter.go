// Package ratelimit bounds how often a user may try to redeem invite codes.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
)

const (
	DefaultWindow      = 5 * time.Minute
	DefaultMaxAttempts = 5
)

// Limiter counts a user's logged join attempts in a trailing window. Check
// and Log are separate steps, so concurrent attempts may briefly exceed Max.
type Limiter struct {
	Window time.Duration
	Max    int
}

func NewLimiter() *Limiter {
	return &Limiter{Window: DefaultWindow, Max: DefaultMaxAttempts}
}

// Check returns a RateLimited error when userId has Max or more attempts
// at or after now-Window. RetryAfter is the time until enough of them age out.
func (l *Limiter) Check(tx database.Tx, userId string, now time.Time) error {
	attempts, err := tx.ListJoinAttemptsSince(userId, now.Add(-l.Window))
	if err != nil {
		return apperrors.Internal(fmt.Errorf("list join attempts: %w", err))
	}
	if len(attempts) < l.Max {
		return nil
	}

	// attempts is oldest first; the count drops below Max once this one expires.
	pivot := attempts[len(attempts)-l.Max]
	retryAfter := max(pivot.AttemptedAt.Add(l.Window).Sub(now), time.Second)

	return apperrors.RateLimited(
		fmt.Sprintf("Too many join attempts. Please wait %d minutes before trying again.", int(l.Window.Minutes())),
		retryAfter,
	)
}

// Log appends an attempt regardless of outcome, so failed guesses count too.
func (l *Limiter) Log(tx database.Tx, userId string, success bool, now time.Time) error {
	err := tx.CreateJoinAttempt(database.JoinAttempt{
		Id:          uuid.NewString(),
		UserId:      userId,
		AttemptedAt: now,
		Success:     success,
	})
	if err != nil {
		return apperrors.Internal(fmt.Errorf("log join attempt: %w", err))
	}
	return nil
}

// Prune deletes attempts older than retention. Retention shorter than the
// window is raised to it so pruning never affects Check.
func (l *Limiter) Prune(tx database.Tx, retention time.Duration, now time.Time) (int, error) {
	retention = max(retention, l.Window)
	n, err := tx.DeleteJoinAttemptsBefore(now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune join attempts: %w", err)
	}
	return n, nil
}
