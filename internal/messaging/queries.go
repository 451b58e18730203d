package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/go-roster/internal/access"
	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
)

type Participant struct {
	UserId      string
	DisplayName string
	Role        database.Role
}

type MessagePreview struct {
	Id         string
	Content    string
	SenderId   string
	SenderName string
	CreatedAt  time.Time
}

// ConversationSummary is a conversation enriched for display.
type ConversationSummary struct {
	Conversation database.Conversation
	Participants []Participant
	LastMessage  *MessagePreview
	HasUnread    bool
}

type MessageView struct {
	Message    database.Message
	SenderName string
}

// names caches display name lookups for the duration of one query.
type names struct {
	tx    database.Tx
	cache map[string]string
}

func newNames(tx database.Tx) *names {
	return &names{tx: tx, cache: make(map[string]string)}
}

func (n *names) get(userId string) (string, error) {
	if name, ok := n.cache[userId]; ok {
		return name, nil
	}
	user, err := n.tx.GetAccountById(userId)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return "", apperrors.Internal(fmt.Errorf("get account: %w", err))
	}
	n.cache[userId] = user.DisplayName
	return user.DisplayName, nil
}

func summarize(tx database.Tx, n *names, conv database.Conversation, userId string) (ConversationSummary, error) {
	sum := ConversationSummary{Conversation: conv, Participants: []Participant{}}
	for _, id := range conv.ParticipantIds {
		name, err := n.get(id)
		if err != nil {
			return sum, err
		}
		sum.Participants = append(sum.Participants, Participant{UserId: id, DisplayName: name})
	}

	latest, err := tx.LatestMessage(conv.Id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return sum, nil
	case err != nil:
		return sum, apperrors.Internal(fmt.Errorf("get latest message: %w", err))
	}

	sender, err := n.get(latest.SenderId)
	if err != nil {
		return sum, err
	}
	sum.LastMessage = &MessagePreview{
		Id:         latest.Id,
		Content:    latest.Content,
		SenderId:   latest.SenderId,
		SenderName: sender,
		CreatedAt:  latest.CreatedAt,
	}

	sum.HasUnread, err = unreadSince(tx, conv.Id, userId, latest.CreatedAt)
	return sum, err
}

// unreadSince reports whether userId has no receipt for the conversation or
// last read it before latest.
func unreadSince(tx database.Tx, conversationId, userId string, latest time.Time) (bool, error) {
	receipt, err := tx.GetReadReceipt(conversationId, userId)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return true, nil
	case err != nil:
		return false, apperrors.Internal(fmt.Errorf("get read receipt: %w", err))
	}
	return receipt.LastReadAt.Before(latest), nil
}

// GetTeamConversations lists the conversations the caller can see, most
// recently active first.
func (s *Service) GetTeamConversations(ctx context.Context, caller access.Caller, teamId string) ([]ConversationSummary, error) {
	summaries := []ConversationSummary{}
	err := s.store.View(ctx, func(tx database.Tx) error {
		if _, err := access.VerifyTeamAccess(tx, caller, teamId); err != nil {
			return err
		}

		convs, err := tx.ListConversationsByTeam(teamId)
		if err != nil {
			return apperrors.Internal(fmt.Errorf("list conversations: %w", err))
		}

		n := newNames(tx)
		for _, conv := range convs {
			if !visibleTo(conv, caller.UserId) {
				continue
			}
			sum, err := summarize(tx, n, conv, caller.UserId)
			if err != nil {
				return err
			}
			summaries = append(summaries, sum)
		}
		return nil
	})
	if err != nil {
		return []ConversationSummary{}, access.FailClosed(err)
	}

	slices.SortStableFunc(summaries, func(a, b ConversationSummary) int {
		return b.Conversation.LastMessageAt.Compare(a.Conversation.LastMessageAt)
	})
	return summaries, nil
}

// GetConversation returns nil when the conversation does not exist or the
// caller cannot see it.
func (s *Service) GetConversation(ctx context.Context, caller access.Caller, conversationId string) (*ConversationSummary, error) {
	var sum *ConversationSummary
	err := s.store.View(ctx, func(tx database.Tx) error {
		conv, err := conversationAccess(tx, caller, conversationId)
		if err != nil {
			return err
		}
		res, err := summarize(tx, newNames(tx), conv, caller.UserId)
		if err != nil {
			return err
		}
		sum = &res
		return nil
	})
	if err != nil {
		return nil, access.FailClosed(err)
	}
	return sum, nil
}

// GetConversationMessages returns the conversation's messages oldest first.
func (s *Service) GetConversationMessages(ctx context.Context, caller access.Caller, conversationId string) ([]MessageView, error) {
	views := []MessageView{}
	err := s.store.View(ctx, func(tx database.Tx) error {
		conv, err := conversationAccess(tx, caller, conversationId)
		if err != nil {
			return err
		}

		msgs, err := tx.ListMessages(conv.Id)
		if err != nil {
			return apperrors.Internal(fmt.Errorf("list messages: %w", err))
		}

		n := newNames(tx)
		for _, msg := range msgs {
			name, err := n.get(msg.SenderId)
			if err != nil {
				return err
			}
			views = append(views, MessageView{Message: msg, SenderName: name})
		}
		return nil
	})
	if err != nil {
		return []MessageView{}, access.FailClosed(err)
	}
	return views, nil
}

// GetTeamMembersForMessaging lists the team members the caller can message,
// excluding the caller.
func (s *Service) GetTeamMembersForMessaging(ctx context.Context, caller access.Caller, teamId string) ([]Participant, error) {
	participants := []Participant{}
	err := s.store.View(ctx, func(tx database.Tx) error {
		acc, err := access.VerifyTeamAccess(tx, caller, teamId)
		if err != nil {
			return err
		}

		grants, err := access.ListTeamAccess(tx, acc.Team)
		if err != nil {
			return err
		}

		n := newNames(tx)
		for _, g := range grants {
			if g.UserId == caller.UserId {
				continue
			}
			name, err := n.get(g.UserId)
			if err != nil {
				return err
			}
			participants = append(participants, Participant{UserId: g.UserId, DisplayName: name, Role: g.Role})
		}
		return nil
	})
	if err != nil {
		return []Participant{}, access.FailClosed(err)
	}

	slices.SortStableFunc(participants, func(a, b Participant) int {
		return strings.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName))
	})
	return participants, nil
}

// GetUnreadCount counts the conversations across all of the caller's teams
// that have messages the caller has not read.
func (s *Service) GetUnreadCount(ctx context.Context, caller access.Caller) (int, error) {
	if !caller.IsAuthenticated() {
		return 0, nil
	}

	var count int
	err := s.store.View(ctx, func(tx database.Tx) error {
		var err error
		count, err = s.unread.UnreadCount(tx, caller.UserId)
		return err
	})
	if err != nil {
		return 0, access.FailClosed(err)
	}
	return count, nil
}
