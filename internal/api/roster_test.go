package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-roster/internal/config"
	"github.com/npezzotti/go-roster/internal/database"
	"github.com/npezzotti/go-roster/internal/stats"
	"github.com/npezzotti/go-roster/internal/testutil"
	"github.com/npezzotti/go-roster/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

// findCookie is a helper function to find a cookie by name in the response recorder.
// It returns the cookie if found, or nil if not found.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

type testEnv struct {
	app   *RosterApp
	store *database.MemoryStore
	h     http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := database.NewMemoryStore()
	require.NoError(t, err)

	app := NewRosterApp(http.NewServeMux(), testutil.TestLogger(t), store, nil, &config.Config{
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	return &testEnv{app: app, store: store, h: app.mux.Handler}
}

// signUp stores an account and returns its id with a valid session token.
func (e *testEnv) signUp(t *testing.T, name string) (string, string) {
	t.Helper()
	id := "user-" + name
	err := e.store.Update(context.Background(), func(tx database.Tx) error {
		return tx.CreateAccount(database.User{
			Id:           id,
			DisplayName:  name,
			EmailAddress: name + "@example.com",
		})
	})
	require.NoError(t, err)

	token, err := e.app.createJwtForSession(id, time.Now().Add(time.Hour))
	require.NoError(t, err)

	return id, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doFrom(t, "192.0.2.1:1234", method, path, token, body)
}

func (e *testEnv) doFrom(t *testing.T, remoteAddr, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf := &bytes.Buffer{}
	if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, buf)
	req.RemoteAddr = remoteAddr
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockStore := &database.MockStore{}
			defer mockStore.AssertExpectations(t)
			mockStore.On("Ping", mock.Anything).Return(tc.mockErr).Once()

			app := NewRosterApp(http.NewServeMux(), testutil.TestLogger(t), mockStore, nil, &config.Config{})
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.mux.Handler.ServeHTTP(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestAnonymousRequests(t *testing.T) {
	env := newTestEnv(t)

	tcases := []struct {
		name         string
		method       string
		path         string
		body         any
		expectedCode int
		expectedBody string
	}{
		{"my teams is empty", http.MethodGet, "/api/teams", nil, http.StatusOK, "[]"},
		{"members is empty", http.MethodGet, "/api/teams/t1/members", nil, http.StatusOK, "[]"},
		{"membership is null", http.MethodGet, "/api/teams/t1/membership", nil, http.StatusOK, "null"},
		{"invite code is null", http.MethodGet, "/api/teams/t1/invite-code", nil, http.StatusOK, "null"},
		{"conversations are empty", http.MethodGet, "/api/teams/t1/conversations", nil, http.StatusOK, "[]"},
		{"conversation is null", http.MethodGet, "/api/conversations/c1", nil, http.StatusOK, "null"},
		{"unread count is zero", http.MethodGet, "/api/unread-count", nil, http.StatusOK, `{"count":0}`},
		{"create team", http.MethodPost, "/api/teams", TeamRequest{Name: "Hawks"}, http.StatusUnauthorized, ""},
		{"join team", http.MethodPost, "/api/teams/join", JoinTeamRequest{Code: "ABCDEFGH"}, http.StatusUnauthorized, ""},
		{"send message", http.MethodPost, "/api/conversations/c1/messages", MessageRequest{Content: "hi"}, http.StatusUnauthorized, ""},
		{"session", http.MethodGet, "/api/auth/session", nil, http.StatusUnauthorized, ""},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, tc.method, tc.path, "", tc.body)
			assert.Equal(t, tc.expectedCode, rr.Code, "body: %s", rr.Body.String())
			if tc.expectedBody != "" {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestTeamAndMessagingFlow(t *testing.T) {
	env := newTestEnv(t)
	mockStats := &stats.MockStatsUpdater{}
	mockStats.On("Incr", mock.Anything).Return()
	env.app.stats = mockStats

	ownerId, ownerToken := env.signUp(t, "Olivia")
	coachId, coachToken := env.signUp(t, "Carl")

	rr := env.do(t, http.MethodPost, "/api/teams", ownerToken, TeamRequest{Name: "Hawks", Evaluator: "Sam"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	team := decodeBody[types.Team](t, rr)
	assert.Equal(t, "owner", team.Role)

	rr = env.do(t, http.MethodGet, "/api/teams/"+team.Id+"/invite-code", ownerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	code := decodeBody[types.InviteCode](t, rr)
	assert.Len(t, code.Code, 8)

	rr = env.do(t, http.MethodPost, "/api/teams/join", coachToken, JoinTeamRequest{Code: " " + code.Code + " "})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	joined := decodeBody[types.JoinResult](t, rr)
	assert.Equal(t, types.JoinResult{TeamId: team.Id, TeamName: "Hawks", Role: "coach"}, joined)

	rr = env.do(t, http.MethodGet, "/api/teams/"+team.Id+"/members", coachToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	members := decodeBody[[]types.Member](t, rr)
	require.Len(t, members, 2)
	assert.Equal(t, ownerId, members[0].UserId)
	assert.Equal(t, coachId, members[1].UserId)

	rr = env.do(t, http.MethodPost, "/api/teams/"+team.Id+"/conversations", coachToken, CreateConversationRequest{
		Type:           "direct",
		ParticipantIds: []string{ownerId},
		InitialMessage: "practice moved to 6pm",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	conv := decodeBody[types.Conversation](t, rr)
	assert.Len(t, conv.Participants, 2)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "practice moved to 6pm", conv.LastMessage.Content)

	rr = env.do(t, http.MethodGet, "/api/unread-count", ownerToken, nil)
	assert.JSONEq(t, `{"count":1}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/conversations/"+conv.Id+"/read", ownerToken, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/unread-count", ownerToken, nil)
	assert.JSONEq(t, `{"count":0}`, rr.Body.String())

	rr = env.do(t, http.MethodDelete, "/api/teams/"+team.Id, ownerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decodeBody[types.DeleteTeamResult](t, rr)
	assert.Equal(t, 2, res.Memberships)
	assert.Equal(t, 1, res.Messages)
	assert.Equal(t, 1, res.Conversations)

	rr = env.do(t, http.MethodGet, "/api/teams", coachToken, nil)
	assert.JSONEq(t, "[]", rr.Body.String())

	mockStats.AssertCalled(t, "Incr", stats.TeamsCreated)
	mockStats.AssertCalled(t, "Incr", stats.JoinAttempts)
	mockStats.AssertCalled(t, "Incr", stats.MessagesSent)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/teams", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := httptest.NewRecorder()
	env.h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}
