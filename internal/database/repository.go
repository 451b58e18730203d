package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with an existing row or
	// with a concurrent unit of work and retrying did not resolve it.
	ErrConflict = errors.New("conflicting write")
)

// Store runs units of work against the backing document store. Every call to
// View or Update observes a consistent snapshot; Update commits all writes
// made by fn or none of them.
type Store interface {
	Ping(ctx context.Context) error
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

type Tx interface {
	CreateAccount(user User) error
	GetAccountById(id string) (User, error)
	GetAccountByEmail(email string) (User, error)

	GetTeam(id string) (Team, error)
	GetTeamByInviteCode(code string) (Team, error)
	ListTeamsByLegacyOwner(userId string) ([]Team, error)
	CreateTeam(team Team) error
	UpdateTeam(team Team) error
	DeleteTeam(id string) error

	GetMembership(id string) (Membership, error)
	GetMembershipByTeamAndUser(teamId, userId string) (Membership, error)
	ListMembershipsByTeam(teamId string) ([]Membership, error)
	ListMembershipsByUser(userId string) ([]Membership, error)
	CreateMembership(m Membership) error
	UpdateMembershipRole(id string, role Role) error
	DeleteMembership(id string) error
	DeleteMembershipsByTeam(teamId string) (int, error)

	CreateJoinAttempt(a JoinAttempt) error
	ListJoinAttemptsSince(userId string, since time.Time) ([]JoinAttempt, error)
	DeleteJoinAttemptsBefore(before time.Time) (int, error)

	GetConversation(id string) (Conversation, error)
	ListConversationsByTeam(teamId string) ([]Conversation, error)
	// FindDirectConversation returns the direct conversation between the two
	// users on the team regardless of argument order.
	FindDirectConversation(teamId, userA, userB string) (Conversation, error)
	CreateConversation(c Conversation) error
	UpdateConversationLastMessageAt(id string, at time.Time) error
	DeleteConversationsByTeam(teamId string) (int, error)

	GetMessage(id string) (Message, error)
	// ListMessages returns the conversation's messages oldest first.
	ListMessages(conversationId string) ([]Message, error)
	LatestMessage(conversationId string) (Message, error)
	CreateMessage(msg Message) error
	UpdateMessageContent(id, content string, editedAt time.Time) error
	DeleteMessage(id string) error
	DeleteMessagesByTeam(teamId string) (int, error)

	GetReadReceipt(conversationId, userId string) (ReadReceipt, error)
	UpsertReadReceipt(r ReadReceipt) error
	DeleteReadReceiptsByConversation(conversationId string) (int, error)

	CreatePlayer(p Player) error
	ListPlayersByTeam(teamId string) ([]Player, error)
	DeletePlayersByTeam(teamId string) (int, error)
	CreateAssessment(a Assessment) error
	ListAssessmentsByTeam(teamId string) ([]Assessment, error)
	DeleteAssessmentsByTeam(teamId string) (int, error)
}
