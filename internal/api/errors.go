package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
)

// conflictRetryAfter is the wait suggested after a write lost to a
// concurrent one.
const conflictRetryAfter = time.Second

type ApiError struct {
	StatusCode int           `json:"status_code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`
	Err        error         `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewConflictError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    message,
	}
}

func NewServiceUnavailableError(message string, retryAfter time.Duration, err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

func NewTooManyRequestsError(message string, retryAfter time.Duration) *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

var kindStatus = map[apperrors.Kind]int{
	apperrors.KindUnauthenticated:     http.StatusUnauthorized,
	apperrors.KindNotFound:            http.StatusNotFound,
	apperrors.KindForbidden:           http.StatusForbidden,
	apperrors.KindInvariant:           http.StatusConflict,
	apperrors.KindRateLimited:         http.StatusTooManyRequests,
	apperrors.KindUniquenessExhausted: http.StatusServiceUnavailable,
	apperrors.KindInvalidArgument:     http.StatusBadRequest,
}

// NewApiError maps a service error to its HTTP form. Domain errors keep their
// message, store conflicts become a retryable 503 and anything else becomes an
// opaque 500.
func NewApiError(err error) *ApiError {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, database.ErrConflict) {
		return NewServiceUnavailableError(
			"The request conflicted with a concurrent change, please try again",
			conflictRetryAfter,
			err,
		)
	}

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperrors.KindInternal {
		return NewInternalServerError(err)
	}

	return &ApiError{
		StatusCode: kindStatus[appErr.Kind],
		Message:    appErr.Message,
		RetryAfter: appErr.RetryAfter,
		Err:        appErr.Err,
	}
}

func (s *RosterApp) writeError(w http.ResponseWriter, err error) {
	errResp := NewApiError(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "status", errResp.StatusCode, "error", err)
	}
	if errResp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(errResp.RetryAfter.Seconds()))))
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}
