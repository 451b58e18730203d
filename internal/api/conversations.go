package api

import (
	"net/http"

	"github.com/npezzotti/go-roster/internal/database"
	"github.com/npezzotti/go-roster/internal/messaging"
	"github.com/npezzotti/go-roster/internal/stats"
	"github.com/npezzotti/go-roster/internal/types"
)

type CreateConversationRequest struct {
	Type           string   `json:"type"`
	ParticipantIds []string `json:"participant_ids"`
	Title          string   `json:"title"`
	InitialMessage string   `json:"initial_message"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

func toParticipants(ps []messaging.Participant) []types.Participant {
	out := make([]types.Participant, 0, len(ps))
	for _, p := range ps {
		out = append(out, types.Participant{
			UserId:      p.UserId,
			DisplayName: p.DisplayName,
			Role:        string(p.Role),
		})
	}
	return out
}

func toConversation(cs messaging.ConversationSummary) types.Conversation {
	c := types.Conversation{
		Id:            cs.Conversation.Id,
		TeamId:        cs.Conversation.TeamId,
		Type:          string(cs.Conversation.Type),
		Title:         cs.Conversation.Title,
		Participants:  toParticipants(cs.Participants),
		HasUnread:     cs.HasUnread,
		LastMessageAt: cs.Conversation.LastMessageAt,
		CreatedAt:     cs.Conversation.CreatedAt,
	}
	if lm := cs.LastMessage; lm != nil {
		c.LastMessage = &types.MessagePreview{
			Id:         lm.Id,
			Content:    lm.Content,
			SenderId:   lm.SenderId,
			SenderName: lm.SenderName,
			CreatedAt:  lm.CreatedAt,
		}
	}
	return c
}

func toMessage(m database.Message, senderName string) types.Message {
	return types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		TeamId:         m.TeamId,
		SenderId:       m.SenderId,
		SenderName:     senderName,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
	}
}

func (s *RosterApp) getTeamConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.messages.GetTeamConversations(r.Context(), callerOf(r), r.PathValue("teamId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := make([]types.Conversation, 0, len(summaries))
	for _, cs := range summaries {
		resp = append(resp, toConversation(cs))
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *RosterApp) createConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	caller := callerOf(r)
	conv, err := s.messages.CreateConversation(r.Context(), caller, messaging.CreateConversationParams{
		TeamId:         r.PathValue("teamId"),
		Type:           database.ConversationType(req.Type),
		ParticipantIds: req.ParticipantIds,
		Title:          req.Title,
		InitialMessage: req.InitialMessage,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.incr(stats.MessagesSent)
	s.log.Infow("conversation started", "conversation_id", conv.Id, "team_id", conv.TeamId, "type", conv.Type)

	summary, err := s.messages.GetConversation(r.Context(), caller, conv.Id)
	if err != nil || summary == nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, toConversation(*summary))
}

func (s *RosterApp) getTeamMembersForMessaging(w http.ResponseWriter, r *http.Request) {
	ps, err := s.messages.GetTeamMembersForMessaging(r.Context(), callerOf(r), r.PathValue("teamId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, toParticipants(ps))
}

func (s *RosterApp) getConversation(w http.ResponseWriter, r *http.Request) {
	summary, err := s.messages.GetConversation(r.Context(), callerOf(r), r.PathValue("conversationId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var resp *types.Conversation
	if summary != nil {
		c := toConversation(*summary)
		resp = &c
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *RosterApp) getConversationMessages(w http.ResponseWriter, r *http.Request) {
	views, err := s.messages.GetConversationMessages(r.Context(), callerOf(r), r.PathValue("conversationId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := make([]types.Message, 0, len(views))
	for _, v := range views {
		resp = append(resp, toMessage(v.Message, v.SenderName))
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *RosterApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.messages.SendMessage(r.Context(), callerOf(r), r.PathValue("conversationId"), req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.incr(stats.MessagesSent)
	s.writeJson(w, http.StatusCreated, toMessage(msg.Message, msg.SenderName))
}

func (s *RosterApp) markAsRead(w http.ResponseWriter, r *http.Request) {
	if err := s.messages.MarkAsRead(r.Context(), callerOf(r), r.PathValue("conversationId")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *RosterApp) editMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.messages.EditMessage(r.Context(), callerOf(r), r.PathValue("messageId"), req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, toMessage(msg.Message, msg.SenderName))
}

func (s *RosterApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	messageId := r.PathValue("messageId")
	if err := s.messages.DeleteMessage(r.Context(), callerOf(r), messageId); err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Infow("message deleted", "message_id", messageId, "user_id", callerOf(r).UserId)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RosterApp) getUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.messages.GetUnreadCount(r.Context(), callerOf(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.UnreadCount{Count: count})
}
