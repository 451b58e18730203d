package database

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleCoach  Role = "coach"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleCoach, RoleViewer:
		return true
	}
	return false
}

type ConversationType string

const (
	ConversationDirect       ConversationType = "direct"
	ConversationAnnouncement ConversationType = "announcement"
)

func (t ConversationType) Valid() bool {
	return t == ConversationDirect || t == ConversationAnnouncement
}

type User struct {
	Id           string
	DisplayName  string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Team is a roster. InviteCode is empty for teams that predate invite codes,
// and LegacyOwnerId is only set on teams created before memberships existed.
type Team struct {
	Id                  string
	Name                string
	Evaluator           string
	TeamCode            string
	InviteCode          string
	InviteCodeCreatedAt time.Time
	LegacyOwnerId       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Membership struct {
	Id        string
	TeamId    string
	UserId    string
	Role      Role
	JoinedAt  time.Time
	InvitedBy string
}

type JoinAttempt struct {
	Id          string
	UserId      string
	AttemptedAt time.Time
	Success     bool
}

type Conversation struct {
	Id             string
	TeamId         string
	Type           ConversationType
	ParticipantIds []string
	Title          string
	LastMessageAt  time.Time
	CreatedAt      time.Time
}

type Message struct {
	Id             string
	ConversationId string
	TeamId         string
	SenderId       string
	Content        string
	CreatedAt      time.Time
	EditedAt       *time.Time
}

type ReadReceipt struct {
	Id             string
	ConversationId string
	UserId         string
	LastReadAt     time.Time
}

type Player struct {
	Id        string
	TeamId    string
	Name      string
	CreatedAt time.Time
}

type Assessment struct {
	Id         string
	TeamId     string
	PlayerId   string
	AssessedAt time.Time
	CreatedAt  time.Time
}
