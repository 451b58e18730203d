package types

import (
	"time"
)

type User struct {
	Id           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	EmailAddress string    `json:"email_address,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Team never carries the invite code; it is only served by the invite code
// endpoints.
type Team struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Evaluator string    `json:"evaluator"`
	TeamCode  string    `json:"team_code"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Membership struct {
	MembershipId string `json:"membership_id,omitempty"`
	TeamId       string `json:"team_id"`
	UserId       string `json:"user_id"`
	Role         string `json:"role"`
	Source       string `json:"source"`
}

type Member struct {
	MembershipId string    `json:"membership_id,omitempty"`
	UserId       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	EmailAddress string    `json:"email_address,omitempty"`
	Role         string    `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
	InvitedBy    string    `json:"invited_by,omitempty"`
}

type InviteCode struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

type JoinResult struct {
	TeamId   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Role     string `json:"role"`
}

type DeleteTeamResult struct {
	TeamId        string `json:"team_id"`
	Memberships   int    `json:"memberships"`
	Assessments   int    `json:"assessments"`
	Players       int    `json:"players"`
	Messages      int    `json:"messages"`
	Conversations int    `json:"conversations"`
}

type Participant struct {
	UserId      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
}

type MessagePreview struct {
	Id         string    `json:"id"`
	Content    string    `json:"content"`
	SenderId   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	CreatedAt  time.Time `json:"created_at"`
}

type Conversation struct {
	Id            string          `json:"id"`
	TeamId        string          `json:"team_id"`
	Type          string          `json:"type"`
	Title         string          `json:"title,omitempty"`
	Participants  []Participant   `json:"participants"`
	LastMessage   *MessagePreview `json:"last_message"`
	HasUnread     bool            `json:"has_unread"`
	LastMessageAt time.Time       `json:"last_message_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Message struct {
	Id             string     `json:"id"`
	ConversationId string     `json:"conversation_id"`
	TeamId         string     `json:"team_id"`
	SenderId       string     `json:"sender_id"`
	SenderName     string     `json:"sender_name,omitempty"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
}

type UnreadCount struct {
	Count int `json:"count"`
}
