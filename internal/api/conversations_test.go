package api

import (
	"net/http"
	"testing"

	"github.com/npezzotti/go-roster/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *teamFixture) startConversation(t *testing.T, token string, req CreateConversationRequest) types.Conversation {
	t.Helper()
	rr := f.env.do(t, http.MethodPost, "/api/teams/"+f.team.Id+"/conversations", token, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[types.Conversation](t, rr)
}

func TestCreateConversationHandler(t *testing.T) {
	f := newTeamFixture(t)

	tcases := []struct {
		name            string
		token           string
		body            any
		expectedCode    int
		expectedMessage string
	}{
		{
			name:         "coach announces",
			token:        f.coachToken,
			body:         CreateConversationRequest{Type: "announcement", Title: "Schedule", InitialMessage: "Game at 10"},
			expectedCode: http.StatusCreated,
		},
		{
			name:            "viewer cannot announce",
			token:           f.viewerToken,
			body:            CreateConversationRequest{Type: "announcement", InitialMessage: "hello"},
			expectedCode:    http.StatusForbidden,
			expectedMessage: "Only team owners and coaches can send announcements",
		},
		{
			name:         "viewer messages the owner",
			token:        f.viewerToken,
			body:         CreateConversationRequest{Type: "direct", ParticipantIds: []string{f.ownerId}, InitialMessage: "hi"},
			expectedCode: http.StatusCreated,
		},
		{
			name:            "recipient outside the team",
			token:           f.viewerToken,
			body:            CreateConversationRequest{Type: "direct", ParticipantIds: []string{f.outsiderId}, InitialMessage: "hi"},
			expectedCode:    http.StatusBadRequest,
			expectedMessage: "Recipient is not a member of this team",
		},
		{
			name:            "empty message",
			token:           f.coachToken,
			body:            CreateConversationRequest{Type: "direct", ParticipantIds: []string{f.ownerId}, InitialMessage: "  "},
			expectedCode:    http.StatusBadRequest,
			expectedMessage: "Message content is required",
		},
		{
			name:         "unknown type",
			token:        f.coachToken,
			body:         CreateConversationRequest{Type: "group", InitialMessage: "hi"},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "outsider",
			token:        f.outsiderToken,
			body:         CreateConversationRequest{Type: "direct", ParticipantIds: []string{f.ownerId}, InitialMessage: "hi"},
			expectedCode: http.StatusForbidden,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.env.do(t, http.MethodPost, "/api/teams/"+f.team.Id+"/conversations", tc.token, tc.body)
			assert.Equal(t, tc.expectedCode, rr.Code, "body: %s", rr.Body.String())
			if tc.expectedMessage != "" {
				assert.Equal(t, tc.expectedMessage, decodeBody[ApiError](t, rr).Message)
			}
		})
	}
}

func TestCreateConversationHandler_ReusesDirectConversation(t *testing.T) {
	f := newTeamFixture(t)

	first := f.startConversation(t, f.coachToken, CreateConversationRequest{
		Type:           "direct",
		ParticipantIds: []string{f.viewerId},
		InitialMessage: "first",
	})
	second := f.startConversation(t, f.viewerToken, CreateConversationRequest{
		Type:           "direct",
		ParticipantIds: []string{f.coachId},
		InitialMessage: "second",
	})

	assert.Equal(t, first.Id, second.Id)

	rr := f.env.do(t, http.MethodGet, "/api/conversations/"+first.Id+"/messages", f.coachToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	msgs := decodeBody[[]types.Message](t, rr)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "Carl", msgs[0].SenderName)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "Vera", msgs[1].SenderName)
}

func TestConversationVisibility(t *testing.T) {
	f := newTeamFixture(t)
	direct := f.startConversation(t, f.coachToken, CreateConversationRequest{
		Type:           "direct",
		ParticipantIds: []string{f.ownerId},
		InitialMessage: "private",
	})
	f.startConversation(t, f.ownerToken, CreateConversationRequest{
		Type:           "announcement",
		Title:          "Welcome",
		InitialMessage: "hello team",
	})

	t.Run("viewer sees only the announcement", func(t *testing.T) {
		rr := f.env.do(t, http.MethodGet, "/api/teams/"+f.team.Id+"/conversations", f.viewerToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		convs := decodeBody[[]types.Conversation](t, rr)
		require.Len(t, convs, 1)
		assert.Equal(t, "announcement", convs[0].Type)
		assert.True(t, convs[0].HasUnread)
	})

	t.Run("participants see both", func(t *testing.T) {
		rr := f.env.do(t, http.MethodGet, "/api/teams/"+f.team.Id+"/conversations", f.coachToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decodeBody[[]types.Conversation](t, rr), 2)
	})

	t.Run("non participant gets null and no messages", func(t *testing.T) {
		rr := f.env.do(t, http.MethodGet, "/api/conversations/"+direct.Id, f.viewerToken, nil)
		assert.JSONEq(t, "null", rr.Body.String())

		rr = f.env.do(t, http.MethodGet, "/api/conversations/"+direct.Id+"/messages", f.viewerToken, nil)
		assert.JSONEq(t, "[]", rr.Body.String())
	})

	t.Run("non participant cannot post", func(t *testing.T) {
		rr := f.env.do(t, http.MethodPost, "/api/conversations/"+direct.Id+"/messages", f.viewerToken, MessageRequest{Content: "hi"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("missing conversation", func(t *testing.T) {
		rr := f.env.do(t, http.MethodPost, "/api/conversations/missing/messages", f.coachToken, MessageRequest{Content: "hi"})
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGetTeamMembersForMessagingHandler(t *testing.T) {
	f := newTeamFixture(t)

	rr := f.env.do(t, http.MethodGet, "/api/teams/"+f.team.Id+"/messaging-members", f.coachToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	ps := decodeBody[[]types.Participant](t, rr)

	require.Len(t, ps, 2)
	assert.Equal(t, "Olivia", ps[0].DisplayName)
	assert.Equal(t, "owner", ps[0].Role)
	assert.Equal(t, "Vera", ps[1].DisplayName)

	rr = f.env.do(t, http.MethodGet, "/api/teams/"+f.team.Id+"/messaging-members", f.outsiderToken, nil)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestMessageHandlers(t *testing.T) {
	f := newTeamFixture(t)
	conv := f.startConversation(t, f.coachToken, CreateConversationRequest{
		Type:           "direct",
		ParticipantIds: []string{f.viewerId},
		InitialMessage: "bring water",
	})

	rr := f.env.do(t, http.MethodPost, "/api/conversations/"+conv.Id+"/messages", f.viewerToken, MessageRequest{Content: " will do "})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	reply := decodeBody[types.Message](t, rr)
	assert.Equal(t, "will do", reply.Content)
	assert.Equal(t, f.viewerId, reply.SenderId)
	assert.Equal(t, "Vera", reply.SenderName)

	t.Run("sender's own message is not unread", func(t *testing.T) {
		rr := f.env.do(t, http.MethodGet, "/api/unread-count", f.viewerToken, nil)
		assert.JSONEq(t, `{"count":0}`, rr.Body.String())
		rr = f.env.do(t, http.MethodGet, "/api/unread-count", f.coachToken, nil)
		assert.JSONEq(t, `{"count":1}`, rr.Body.String())
	})

	t.Run("only the sender edits", func(t *testing.T) {
		rr := f.env.do(t, http.MethodPut, "/api/messages/"+reply.Id, f.coachToken, MessageRequest{Content: "changed"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "You can only edit your own messages", decodeBody[ApiError](t, rr).Message)

		rr = f.env.do(t, http.MethodPut, "/api/messages/"+reply.Id, f.viewerToken, MessageRequest{Content: "will do!"})
		require.Equal(t, http.StatusOK, rr.Code)
		edited := decodeBody[types.Message](t, rr)
		assert.Equal(t, "will do!", edited.Content)
		assert.Equal(t, "Vera", edited.SenderName)
		assert.NotNil(t, edited.EditedAt)
	})

	t.Run("owner deletes any message on the team", func(t *testing.T) {
		rr := f.env.do(t, http.MethodDelete, "/api/messages/"+reply.Id, f.outsiderToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = f.env.do(t, http.MethodDelete, "/api/messages/"+reply.Id, f.ownerToken, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.env.do(t, http.MethodDelete, "/api/messages/"+reply.Id, f.ownerToken, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("mark as read", func(t *testing.T) {
		rr := f.env.do(t, http.MethodPost, "/api/conversations/"+conv.Id+"/read", f.coachToken, nil)
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.env.do(t, http.MethodGet, "/api/conversations/"+conv.Id, f.coachToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.False(t, decodeBody[types.Conversation](t, rr).HasUnread)
	})
}
