package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-roster/internal/access"
	"github.com/npezzotti/go-roster/internal/stats"
	"github.com/npezzotti/go-roster/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	app := &RosterApp{
		log: zap.New(core).Sugar(),
	}

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	require.Equal(t, 1, logs.FilterMessage("panic").Len())
	assert.Equal(t, "test panic", logs.FilterMessage("panic").All()[0].ContextMap()["error"])
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &RosterApp{log: testutil.TestLogger(t)}

	// simple handler that does not panic
	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_sessionMiddleware(t *testing.T) {
	app := &RosterApp{log: testutil.TestLogger(t), signingKey: testSigningKey}

	token, err := app.createJwtForSession("user-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	tcases := []struct {
		name           string
		setup          func(r *http.Request)
		expectedCaller access.Caller
	}{
		{
			name:           "no credentials",
			setup:          func(r *http.Request) {},
			expectedCaller: access.Anonymous,
		},
		{
			name: "bearer token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+token)
			},
			expectedCaller: access.Authenticated("user-1"),
		},
		{
			name: "cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
			},
			expectedCaller: access.Authenticated("user-1"),
		},
		{
			name: "invalid token continues as anonymous",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer invalid-token")
			},
			expectedCaller: access.Anonymous,
		},
		{
			name: "non bearer authorization falls back to cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
			},
			expectedCaller: access.Authenticated("user-1"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var got access.Caller
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = access.CallerFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			rr := httptest.NewRecorder()
			app.sessionMiddleware(next).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tc.expectedCaller, got)
		})
	}
}

func Test_authMiddleware(t *testing.T) {
	app := &RosterApp{log: testutil.TestLogger(t)}

	okHandler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}

	t.Run("authenticated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(access.WithCaller(req.Context(), access.Authenticated("user-1")))
		app.authMiddleware(okHandler).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ok", rr.Body.String())
		assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
	})

	t.Run("anonymous", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		app.authMiddleware(okHandler).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestIPRateLimiter(t *testing.T) {
	clock := testutil.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	rl := NewIPRateLimiter(10, 5, 5*time.Minute)
	rl.now = clock.Now

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("192.0.2.1"), "request %d should be within the burst", i+1)
	}
	assert.False(t, rl.Allow("192.0.2.1"), "expected burst to be exhausted")
	assert.True(t, rl.Allow("192.0.2.2"), "expected other addresses to be unaffected")

	// 10 per minute refills one token every 6 seconds
	clock.Advance(7 * time.Second)
	assert.True(t, rl.Allow("192.0.2.1"))
	assert.False(t, rl.Allow("192.0.2.1"))

	clock.Advance(10 * time.Minute)
	rl.Allow("192.0.2.3")
	rl.mu.Lock()
	assert.NotContains(t, rl.visitors, "192.0.2.1", "expected idle visitor to be swept")
	assert.Contains(t, rl.visitors, "192.0.2.3")
	rl.mu.Unlock()
}

func Test_throttle(t *testing.T) {
	mockStats := &stats.MockStatsUpdater{}
	mockStats.On("Incr", stats.JoinsRateLimited).Return().Once()
	defer mockStats.AssertExpectations(t)

	app := &RosterApp{log: testutil.TestLogger(t), stats: mockStats}
	rl := NewIPRateLimiter(10, 1, time.Minute)

	calls := 0
	handler := app.throttle(rl, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/teams/join", nil)
	req.RemoteAddr = "198.51.100.7:5555"

	rr := httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, 1, calls)
}

func Test_clientIP(t *testing.T) {
	tcases := []struct {
		remoteAddr string
		expected   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"no-port", "no-port"},
	}

	for _, tc := range tcases {
		t.Run(tc.remoteAddr, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			assert.Equal(t, tc.expected, clientIP(req))
		})
	}
}
