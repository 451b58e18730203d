package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	teamColumns         = "id, name, evaluator, team_code, COALESCE(invite_code, ''), invite_code_created_at, COALESCE(legacy_owner_id, ''), created_at, updated_at"
	membershipColumns   = "id, team_id, user_id, role, joined_at, COALESCE(invited_by, '')"
	conversationColumns = "id, team_id, type, participant_ids, title, last_message_at, created_at"
	messageColumns      = "id, conversation_id, team_id, sender_id, content, created_at, edited_at"
)

type scanner interface {
	Scan(dest ...any) error
}

func (t *pgTx) CreateAccount(user User) error {
	_, err := t.exec(
		"INSERT INTO accounts (id, display_name, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6)",
		user.Id,
		user.DisplayName,
		user.EmailAddress,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return err
}

func (t *pgTx) GetAccountById(id string) (User, error) {
	row := t.tx.QueryRowContext(t.ctx,
		"SELECT id, display_name, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)
	var u User
	err := row.Scan(&u.Id, &u.DisplayName, &u.EmailAddress, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, notFound(err)
}

func (t *pgTx) GetAccountByEmail(email string) (User, error) {
	row := t.tx.QueryRowContext(t.ctx,
		"SELECT id, display_name, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE lower(email) = lower($1) LIMIT 1",
		email,
	)
	var u User
	err := row.Scan(&u.Id, &u.DisplayName, &u.EmailAddress, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, notFound(err)
}

func scanTeam(row scanner) (Team, error) {
	var team Team
	err := row.Scan(
		&team.Id,
		&team.Name,
		&team.Evaluator,
		&team.TeamCode,
		&team.InviteCode,
		&team.InviteCodeCreatedAt,
		&team.LegacyOwnerId,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	return team, err
}

func (t *pgTx) GetTeam(id string) (Team, error) {
	team, err := scanTeam(t.tx.QueryRowContext(t.ctx,
		"SELECT "+teamColumns+" FROM teams WHERE id = $1", id))
	return team, notFound(err)
}

func (t *pgTx) GetTeamByInviteCode(code string) (Team, error) {
	if code == "" {
		return Team{}, ErrNotFound
	}
	team, err := scanTeam(t.tx.QueryRowContext(t.ctx,
		"SELECT "+teamColumns+" FROM teams WHERE invite_code = $1", code))
	return team, notFound(err)
}

func (t *pgTx) ListTeamsByLegacyOwner(userId string) ([]Team, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT "+teamColumns+" FROM teams WHERE legacy_owner_id = $1", userId)
	if err != nil {
		return nil, fmt.Errorf("list legacy teams: %w", err)
	}
	defer rows.Close()

	teams := make([]Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

func (t *pgTx) CreateTeam(team Team) error {
	_, err := t.exec(
		"INSERT INTO teams (id, name, evaluator, team_code, invite_code, invite_code_created_at, legacy_owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9)",
		team.Id,
		team.Name,
		team.Evaluator,
		team.TeamCode,
		team.InviteCode,
		team.InviteCodeCreatedAt,
		team.LegacyOwnerId,
		team.CreatedAt,
		team.UpdatedAt,
	)
	return err
}

func (t *pgTx) UpdateTeam(team Team) error {
	return t.execOne(
		"UPDATE teams SET name = $2, evaluator = $3, invite_code = NULLIF($4, ''), invite_code_created_at = $5, updated_at = $6 "+
			"WHERE id = $1",
		team.Id,
		team.Name,
		team.Evaluator,
		team.InviteCode,
		team.InviteCodeCreatedAt,
		team.UpdatedAt,
	)
}

func (t *pgTx) DeleteTeam(id string) error {
	_, err := t.exec("DELETE FROM teams WHERE id = $1", id)
	return err
}

func scanMembership(row scanner) (Membership, error) {
	var m Membership
	var role string
	err := row.Scan(&m.Id, &m.TeamId, &m.UserId, &role, &m.JoinedAt, &m.InvitedBy)
	m.Role = Role(role)
	return m, err
}

func (t *pgTx) listMemberships(query string, arg string) ([]Membership, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	members := make([]Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (t *pgTx) GetMembership(id string) (Membership, error) {
	m, err := scanMembership(t.tx.QueryRowContext(t.ctx,
		"SELECT "+membershipColumns+" FROM team_members WHERE id = $1", id))
	return m, notFound(err)
}

func (t *pgTx) GetMembershipByTeamAndUser(teamId, userId string) (Membership, error) {
	m, err := scanMembership(t.tx.QueryRowContext(t.ctx,
		"SELECT "+membershipColumns+" FROM team_members WHERE team_id = $1 AND user_id = $2",
		teamId, userId))
	return m, notFound(err)
}

func (t *pgTx) ListMembershipsByTeam(teamId string) ([]Membership, error) {
	return t.listMemberships("SELECT "+membershipColumns+" FROM team_members WHERE team_id = $1", teamId)
}

func (t *pgTx) ListMembershipsByUser(userId string) ([]Membership, error) {
	return t.listMemberships("SELECT "+membershipColumns+" FROM team_members WHERE user_id = $1", userId)
}

func (t *pgTx) CreateMembership(m Membership) error {
	_, err := t.exec(
		"INSERT INTO team_members (id, team_id, user_id, role, joined_at, invited_by) "+
			"VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))",
		m.Id,
		m.TeamId,
		m.UserId,
		string(m.Role),
		m.JoinedAt,
		m.InvitedBy,
	)
	return err
}

func (t *pgTx) UpdateMembershipRole(id string, role Role) error {
	return t.execOne("UPDATE team_members SET role = $2 WHERE id = $1", id, string(role))
}

func (t *pgTx) DeleteMembership(id string) error {
	_, err := t.exec("DELETE FROM team_members WHERE id = $1", id)
	return err
}

func (t *pgTx) DeleteMembershipsByTeam(teamId string) (int, error) {
	return t.exec("DELETE FROM team_members WHERE team_id = $1", teamId)
}

func (t *pgTx) CreateJoinAttempt(a JoinAttempt) error {
	_, err := t.exec(
		"INSERT INTO join_attempts (id, user_id, attempted_at, success) VALUES ($1, $2, $3, $4)",
		a.Id, a.UserId, a.AttemptedAt, a.Success,
	)
	return err
}

func (t *pgTx) ListJoinAttemptsSince(userId string, since time.Time) ([]JoinAttempt, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT id, user_id, attempted_at, success FROM join_attempts "+
			"WHERE user_id = $1 AND attempted_at >= $2 ORDER BY attempted_at ASC",
		userId, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list join attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]JoinAttempt, 0)
	for rows.Next() {
		var a JoinAttempt
		if err := rows.Scan(&a.Id, &a.UserId, &a.AttemptedAt, &a.Success); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (t *pgTx) DeleteJoinAttemptsBefore(before time.Time) (int, error) {
	return t.exec("DELETE FROM join_attempts WHERE attempted_at < $1", before)
}

func scanConversation(row scanner) (Conversation, error) {
	var (
		c    Conversation
		kind string
		ids  pq.StringArray
	)
	err := row.Scan(&c.Id, &c.TeamId, &kind, &ids, &c.Title, &c.LastMessageAt, &c.CreatedAt)
	c.Type = ConversationType(kind)
	c.ParticipantIds = []string(ids)
	if c.ParticipantIds == nil {
		c.ParticipantIds = []string{}
	}
	return c, err
}

func (t *pgTx) GetConversation(id string) (Conversation, error) {
	c, err := scanConversation(t.tx.QueryRowContext(t.ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id))
	return c, notFound(err)
}

func (t *pgTx) ListConversationsByTeam(teamId string) ([]Conversation, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE team_id = $1", teamId)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (t *pgTx) FindDirectConversation(teamId, userA, userB string) (Conversation, error) {
	c, err := scanConversation(t.tx.QueryRowContext(t.ctx,
		"SELECT "+conversationColumns+" FROM conversations "+
			"WHERE team_id = $1 AND type = 'direct' AND participant_ids @> $2 AND cardinality(participant_ids) = 2 "+
			"ORDER BY created_at ASC LIMIT 1",
		teamId, pq.Array([]string{userA, userB})))
	return c, notFound(err)
}

// participantArray keeps an empty participant list from binding as NULL.
func participantArray(ids []string) pq.StringArray {
	if ids == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(ids)
}

func (t *pgTx) CreateConversation(c Conversation) error {
	_, err := t.exec(
		"INSERT INTO conversations (id, team_id, type, participant_ids, title, last_message_at, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		c.Id,
		c.TeamId,
		string(c.Type),
		participantArray(c.ParticipantIds),
		c.Title,
		c.LastMessageAt,
		c.CreatedAt,
	)
	return err
}

func (t *pgTx) UpdateConversationLastMessageAt(id string, at time.Time) error {
	return t.execOne("UPDATE conversations SET last_message_at = $2 WHERE id = $1", id, at)
}

func (t *pgTx) DeleteConversationsByTeam(teamId string) (int, error) {
	if _, err := t.exec(
		"DELETE FROM read_receipts WHERE conversation_id IN (SELECT id FROM conversations WHERE team_id = $1)",
		teamId,
	); err != nil {
		return 0, err
	}
	return t.exec("DELETE FROM conversations WHERE team_id = $1", teamId)
}

func scanMessage(row scanner) (Message, error) {
	var (
		msg      Message
		editedAt sql.NullTime
	)
	err := row.Scan(&msg.Id, &msg.ConversationId, &msg.TeamId, &msg.SenderId, &msg.Content, &msg.CreatedAt, &editedAt)
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}
	return msg, err
}

func (t *pgTx) GetMessage(id string) (Message, error) {
	msg, err := scanMessage(t.tx.QueryRowContext(t.ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1", id))
	return msg, notFound(err)
}

func (t *pgTx) ListMessages(conversationId string) ([]Message, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC",
		conversationId)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (t *pgTx) LatestMessage(conversationId string) (Message, error) {
	msg, err := scanMessage(t.tx.QueryRowContext(t.ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		conversationId))
	return msg, notFound(err)
}

func (t *pgTx) CreateMessage(msg Message) error {
	_, err := t.exec(
		"INSERT INTO messages (id, conversation_id, team_id, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6)",
		msg.Id,
		msg.ConversationId,
		msg.TeamId,
		msg.SenderId,
		msg.Content,
		msg.CreatedAt,
	)
	return err
}

func (t *pgTx) UpdateMessageContent(id, content string, editedAt time.Time) error {
	return t.execOne("UPDATE messages SET content = $2, edited_at = $3 WHERE id = $1", id, content, editedAt)
}

func (t *pgTx) DeleteMessage(id string) error {
	_, err := t.exec("DELETE FROM messages WHERE id = $1", id)
	return err
}

func (t *pgTx) DeleteMessagesByTeam(teamId string) (int, error) {
	return t.exec("DELETE FROM messages WHERE team_id = $1", teamId)
}

func (t *pgTx) GetReadReceipt(conversationId, userId string) (ReadReceipt, error) {
	row := t.tx.QueryRowContext(t.ctx,
		"SELECT id, conversation_id, user_id, last_read_at FROM read_receipts "+
			"WHERE conversation_id = $1 AND user_id = $2",
		conversationId, userId)
	var r ReadReceipt
	err := row.Scan(&r.Id, &r.ConversationId, &r.UserId, &r.LastReadAt)
	return r, notFound(err)
}

func (t *pgTx) UpsertReadReceipt(r ReadReceipt) error {
	_, err := t.exec(
		"INSERT INTO read_receipts (id, conversation_id, user_id, last_read_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (conversation_id, user_id) DO UPDATE SET last_read_at = EXCLUDED.last_read_at",
		r.Id, r.ConversationId, r.UserId, r.LastReadAt,
	)
	return err
}

func (t *pgTx) DeleteReadReceiptsByConversation(conversationId string) (int, error) {
	return t.exec("DELETE FROM read_receipts WHERE conversation_id = $1", conversationId)
}

func (t *pgTx) CreatePlayer(p Player) error {
	_, err := t.exec(
		"INSERT INTO players (id, team_id, name, created_at) VALUES ($1, $2, $3, $4)",
		p.Id, p.TeamId, p.Name, p.CreatedAt,
	)
	return err
}

func (t *pgTx) ListPlayersByTeam(teamId string) ([]Player, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT id, team_id, name, created_at FROM players WHERE team_id = $1", teamId)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := make([]Player, 0)
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.Id, &p.TeamId, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (t *pgTx) DeletePlayersByTeam(teamId string) (int, error) {
	return t.exec("DELETE FROM players WHERE team_id = $1", teamId)
}

func (t *pgTx) CreateAssessment(a Assessment) error {
	_, err := t.exec(
		"INSERT INTO assessments (id, team_id, player_id, assessed_at, created_at) VALUES ($1, $2, $3, $4, $5)",
		a.Id, a.TeamId, a.PlayerId, a.AssessedAt, a.CreatedAt,
	)
	return err
}

func (t *pgTx) ListAssessmentsByTeam(teamId string) ([]Assessment, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		"SELECT id, team_id, player_id, assessed_at, created_at FROM assessments WHERE team_id = $1", teamId)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	assessments := make([]Assessment, 0)
	for rows.Next() {
		var a Assessment
		if err := rows.Scan(&a.Id, &a.TeamId, &a.PlayerId, &a.AssessedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

func (t *pgTx) DeleteAssessmentsByTeam(teamId string) (int, error) {
	return t.exec("DELETE FROM assessments WHERE team_id = $1", teamId)
}
