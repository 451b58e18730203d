// Package messaging implements team conversations: direct threads between two
// members and announcements visible to the whole team.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-roster/internal/access"
	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
	"github.com/teris-io/shortid"
)

type Service struct {
	store  database.Store
	unread UnreadCounter
	now    func() time.Time

	generateShortId func() (string, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithUnreadCounter(c UnreadCounter) Option {
	return func(s *Service) { s.unread = c }
}

func NewService(store database.Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		unread:          ScanCounter{},
		now:             time.Now,
		generateShortId: shortid.Generate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateConversationParams struct {
	TeamId         string
	Type           database.ConversationType
	ParticipantIds []string
	Title          string
	InitialMessage string
}

func cleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperrors.InvalidArgument("Message content is required")
	}
	return content, nil
}

// CreateConversation starts a conversation with its first message. A direct
// conversation between two users that already exists on the team is reused
// and the message is appended to it.
func (s *Service) CreateConversation(ctx context.Context, caller access.Caller, params CreateConversationParams) (database.Conversation, error) {
	if !params.Type.Valid() {
		return database.Conversation{}, apperrors.InvalidArgument("Conversation type must be direct or announcement")
	}
	content, err := cleanContent(params.InitialMessage)
	if err != nil {
		return database.Conversation{}, err
	}

	convId, err := s.generateShortId()
	if err != nil {
		return database.Conversation{}, apperrors.Internal(fmt.Errorf("generate conversation id: %w", err))
	}

	var conv database.Conversation
	err = s.store.Update(ctx, func(tx database.Tx) error {
		var (
			acc *access.Access
			err error
		)
		if params.Type == database.ConversationAnnouncement {
			acc, err = access.VerifyTeamModifyAccess(tx, caller, params.TeamId, "send announcements")
		} else {
			acc, err = access.VerifyTeamAccess(tx, caller, params.TeamId)
		}
		if err != nil {
			return err
		}

		now := s.now()
		conv = database.Conversation{
			Id:            convId,
			TeamId:        acc.Team.Id,
			Type:           params.Type,
			ParticipantIds: []string{},
			LastMessageAt:  now,
			CreatedAt:      now,
		}

		switch params.Type {
		case database.ConversationAnnouncement:
			conv.Title = strings.TrimSpace(params.Title)
		case database.ConversationDirect:
			recipient, err := directRecipient(tx, caller, acc.Team, params.ParticipantIds)
			if err != nil {
				return err
			}

			existing, err := tx.FindDirectConversation(acc.Team.Id, caller.UserId, recipient)
			switch {
			case err == nil:
				conv = existing
				conv.LastMessageAt = now
				_, err := s.appendMessage(tx, caller, conv, content, now)
				return err
			case !errors.Is(err, database.ErrNotFound):
				return apperrors.Internal(fmt.Errorf("find direct conversation: %w", err))
			}

			conv.ParticipantIds = []string{caller.UserId, recipient}
			slices.Sort(conv.ParticipantIds)
		}

		if err := tx.CreateConversation(conv); err != nil {
			return apperrors.Internal(fmt.Errorf("create conversation: %w", err))
		}
		_, err = s.appendMessage(tx, caller, conv, content, now)
		return err
	})
	if err != nil {
		return database.Conversation{}, err
	}
	return conv, nil
}

// directRecipient returns the single other participant, who must have access
// to the team.
func directRecipient(tx database.Tx, caller access.Caller, team database.Team, participantIds []string) (string, error) {
	var others []string
	for _, id := range participantIds {
		id = strings.TrimSpace(id)
		if id == "" || id == caller.UserId || slices.Contains(others, id) {
			continue
		}
		others = append(others, id)
	}
	if len(others) != 1 {
		return "", apperrors.InvalidArgument("Direct conversations need exactly one other participant")
	}

	_, ok, err := access.RoleOf(tx, others[0], team)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.InvalidArgument("Recipient is not a member of this team")
	}
	return others[0], nil
}

// appendMessage stores a message, bumps the conversation's activity time and
// marks it read for the sender.
func (s *Service) appendMessage(tx database.Tx, caller access.Caller, conv database.Conversation, content string, now time.Time) (database.Message, error) {
	msg := database.Message{
		Id:             uuid.NewString(),
		ConversationId: conv.Id,
		TeamId:         conv.TeamId,
		SenderId:       caller.UserId,
		Content:        content,
		CreatedAt:      now,
	}
	if err := tx.CreateMessage(msg); err != nil {
		return database.Message{}, apperrors.Internal(fmt.Errorf("create message: %w", err))
	}
	if err := tx.UpdateConversationLastMessageAt(conv.Id, now); err != nil {
		return database.Message{}, apperrors.Internal(fmt.Errorf("update last message time: %w", err))
	}
	return msg, markRead(tx, conv.Id, caller.UserId, now)
}

func markRead(tx database.Tx, conversationId, userId string, now time.Time) error {
	err := tx.UpsertReadReceipt(database.ReadReceipt{
		Id:             uuid.NewString(),
		ConversationId: conversationId,
		UserId:         userId,
		LastReadAt:     now,
	})
	if err != nil {
		return apperrors.Internal(fmt.Errorf("upsert read receipt: %w", err))
	}
	return nil
}

// conversationAccess loads a conversation and checks the caller may see it.
func conversationAccess(tx database.Tx, caller access.Caller, conversationId string) (database.Conversation, error) {
	if !caller.IsAuthenticated() {
		return database.Conversation{}, apperrors.Unauthenticated()
	}

	conv, err := tx.GetConversation(conversationId)
	if errors.Is(err, database.ErrNotFound) {
		return database.Conversation{}, apperrors.NotFound("Conversation not found")
	}
	if err != nil {
		return database.Conversation{}, apperrors.Internal(fmt.Errorf("get conversation: %w", err))
	}

	if _, err := access.VerifyTeamAccess(tx, caller, conv.TeamId); err != nil {
		return database.Conversation{}, err
	}
	if !visibleTo(conv, caller.UserId) {
		return database.Conversation{}, apperrors.Forbidden("You are not a participant in this conversation")
	}
	return conv, nil
}

// visibleTo reports whether a team member can see conv. Announcements are
// visible to the whole team.
func visibleTo(conv database.Conversation, userId string) bool {
	return conv.Type != database.ConversationDirect || slices.Contains(conv.ParticipantIds, userId)
}

func (s *Service) SendMessage(ctx context.Context, caller access.Caller, conversationId, content string) (MessageView, error) {
	content, err := cleanContent(content)
	if err != nil {
		return MessageView{}, err
	}

	var view MessageView
	err = s.store.Update(ctx, func(tx database.Tx) error {
		conv, err := conversationAccess(tx, caller, conversationId)
		if err != nil {
			return err
		}

		msg, err := s.appendMessage(tx, caller, conv, content, s.now())
		if err != nil {
			return err
		}
		view, err = senderView(tx, msg)
		return err
	})
	if err != nil {
		return MessageView{}, err
	}
	return view, nil
}

func senderView(tx database.Tx, msg database.Message) (MessageView, error) {
	name, err := newNames(tx).get(msg.SenderId)
	if err != nil {
		return MessageView{}, err
	}
	return MessageView{Message: msg, SenderName: name}, nil
}

func getMessage(tx database.Tx, caller access.Caller, messageId string) (database.Message, *access.Access, error) {
	if !caller.IsAuthenticated() {
		return database.Message{}, nil, apperrors.Unauthenticated()
	}

	msg, err := tx.GetMessage(messageId)
	if errors.Is(err, database.ErrNotFound) {
		return database.Message{}, nil, apperrors.NotFound("Message not found")
	}
	if err != nil {
		return database.Message{}, nil, apperrors.Internal(fmt.Errorf("get message: %w", err))
	}

	acc, err := access.VerifyTeamAccess(tx, caller, msg.TeamId)
	if err != nil {
		return database.Message{}, nil, err
	}
	return msg, acc, nil
}

// EditMessage replaces a message's content. Only the sender may edit, with no
// time limit.
func (s *Service) EditMessage(ctx context.Context, caller access.Caller, messageId, content string) (MessageView, error) {
	content, err := cleanContent(content)
	if err != nil {
		return MessageView{}, err
	}

	var view MessageView
	err = s.store.Update(ctx, func(tx database.Tx) error {
		msg, _, err := getMessage(tx, caller, messageId)
		if err != nil {
			return err
		}
		if msg.SenderId != caller.UserId {
			return apperrors.Forbidden("You can only edit your own messages")
		}

		editedAt := s.now()
		if err := tx.UpdateMessageContent(msg.Id, content, editedAt); err != nil {
			return apperrors.Internal(fmt.Errorf("update message: %w", err))
		}
		msg.Content = content
		msg.EditedAt = &editedAt

		view, err = senderView(tx, msg)
		return err
	})
	if err != nil {
		return MessageView{}, err
	}
	return view, nil
}

// DeleteMessage removes a message. The sender and the team owner may delete;
// coaches may not delete messages of others.
func (s *Service) DeleteMessage(ctx context.Context, caller access.Caller, messageId string) error {
	return s.store.Update(ctx, func(tx database.Tx) error {
		msg, acc, err := getMessage(tx, caller, messageId)
		if err != nil {
			return err
		}
		if msg.SenderId != caller.UserId && !acc.IsOwner() {
			return apperrors.Forbidden("Only the sender or the team owner can delete this message")
		}

		if err := tx.DeleteMessage(msg.Id); err != nil {
			return apperrors.Internal(fmt.Errorf("delete message: %w", err))
		}
		return nil
	})
}

func (s *Service) MarkAsRead(ctx context.Context, caller access.Caller, conversationId string) error {
	return s.store.Update(ctx, func(tx database.Tx) error {
		conv, err := conversationAccess(tx, caller, conversationId)
		if err != nil {
			return err
		}
		return markRead(tx, conv.Id, caller.UserId, s.now())
	})
}
