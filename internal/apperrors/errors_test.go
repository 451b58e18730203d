package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := Forbidden("Only team owners can delete teams")

	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, fmt.Errorf("delete team: %w", err), ErrForbidden, "expected match through wrapping")
}

func TestError_Error(t *testing.T) {
	tcases := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "message only",
			err:      NotFound("Team not found"),
			expected: "Team not found",
		},
		{
			name:     "wrapped cause",
			err:      Internal(errors.New("db down")),
			expected: "internal error: db down",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected Kind
	}{
		{name: "domain error", err: Invariant("already a member"), expected: KindInvariant},
		{name: "wrapped domain error", err: fmt.Errorf("join: %w", RateLimited("slow down", time.Minute)), expected: KindRateLimited},
		{name: "plain error", err: errors.New("boom"), expected: KindInternal},
		{name: "nil", err: nil, expected: KindInternal},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.err))
		})
	}
}

func TestRateLimited_CarriesRetryAfter(t *testing.T) {
	err := RateLimited("Too many attempts", 90*time.Second)
	assert.Equal(t, 90*time.Second, err.RetryAfter)
	assert.Equal(t, "rate_limited", err.Kind.String())
}
