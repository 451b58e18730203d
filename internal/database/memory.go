package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
)

const (
	tableAccounts      = "accounts"
	tableTeams         = "teams"
	tableMemberships   = "memberships"
	tableJoinAttempts  = "join_attempts"
	tableConversations = "conversations"
	tableMessages      = "messages"
	tableReadReceipts  = "read_receipts"
	tablePlayers       = "players"
	tableAssessments   = "assessments"

	indexId = "id"
)

func idIndex() *memdb.IndexSchema {
	return &memdb.IndexSchema{
		Name:    indexId,
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "Id"},
	}
}

func fieldIndex(name, field string, allowMissing bool) *memdb.IndexSchema {
	return &memdb.IndexSchema{
		Name:         name,
		AllowMissing: allowMissing,
		Indexer:      &memdb.StringFieldIndex{Field: field},
	}
}

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableAccounts: {
				Name: tableAccounts,
				Indexes: map[string]*memdb.IndexSchema{
					indexId: idIndex(),
					"email": {
						Name:    "email",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "EmailAddress", Lowercase: true},
					},
				},
			},
			tableTeams: {
				Name: tableTeams,
				Indexes: map[string]*memdb.IndexSchema{
					indexId:           idIndex(),
					"invite_code":     fieldIndex("invite_code", "InviteCode", true),
					"legacy_owner_id": fieldIndex("legacy_owner_id", "LegacyOwnerId", true),
				},
			},
			tableMemberships: {
				Name: tableMemberships,
				Indexes: map[string]*memdb.IndexSchema{
					indexId:   idIndex(),
					"team_id": fieldIndex("team_id", "TeamId", false),
					"user_id": fieldIndex("user_id", "UserId", false),
					"team_user": {
						Name: "team_user",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "TeamId"},
								&memdb.StringFieldIndex{Field: "UserId"},
							},
						},
					},
				},
			},
			tableJoinAttempts: {
				Name: tableJoinAttempts,
				Indexes: map[string]*memdb.IndexSchema{
					indexId:   idIndex(),
					"user_id": fieldIndex("user_id", "UserId", false),
				},
			},
			tableConversations: {
				Name: tableConversations,
				Indexes: map[string]*memdb.IndexSchema{
					indexId:   idIndex(),
					"team_id": fieldIndex("team_id", "TeamId", false),
				},
			},
			tableMessages: {
				Name: tableMessages,
				Indexes: map[string]*memdb.IndexSchema{
					indexId:           idIndex(),
					"conversation_id": fieldIndex("conversation_id", "ConversationId", false),
					"team_id":         fieldIndex("team_id", "TeamId", false),
				},
			},
			tableReadReceipts: {
				Name: tableReadReceipts,
				Indexes: map[string]*memdb.IndexSchema{
					indexId:           idIndex(),
					"conversation_id": fieldIndex("conversation_id", "ConversationId", false),
					"conversation_user": {
						Name: "conversation_user",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "ConversationId"},
								&memdb.StringFieldIndex{Field: "UserId"},
							},
						},
					},
				},
			},
			tablePlayers: {
				Name: tablePlayers,
				Indexes: map[string]*memdb.IndexSchema{
					indexId:   idIndex(),
					"team_id": fieldIndex("team_id", "TeamId", false),
				},
			},
			tableAssessments: {
				Name: tableAssessments,
				Indexes: map[string]*memdb.IndexSchema{
					indexId:   idIndex(),
					"team_id": fieldIndex("team_id", "TeamId", false),
				},
			},
		},
	}
}

// MemoryStore keeps every table in a go-memdb database. Write transactions
// are serialized by memdb, so each Update is atomic and isolated.
type MemoryStore struct {
	db *memdb.MemDB
}

func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(&memTx{txn: txn})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := fn(&memTx{txn: txn}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

type memTx struct {
	txn *memdb.Txn
}

func (t *memTx) first(table, index string, args ...any) (any, error) {
	raw, err := t.txn.First(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s by %s: %w", table, index, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw, nil
}

func collect[T any](t *memTx, table, index string, args ...any) ([]T, error) {
	it, err := t.txn.Get(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s by %s: %w", table, index, err)
	}
	out := make([]T, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*T))
	}
	return out, nil
}

func (t *memTx) deleteAll(table, index string, args ...any) (int, error) {
	n, err := t.txn.DeleteAll(table, index, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s by %s: %w", table, index, err)
	}
	return n, nil
}

func (t *memTx) insert(table string, obj any) error {
	if err := t.txn.Insert(table, obj); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (t *memTx) CreateAccount(user User) error {
	if _, err := t.GetAccountByEmail(user.EmailAddress); err == nil {
		return fmt.Errorf("%w: account with email %q already exists", ErrConflict, user.EmailAddress)
	}
	return t.insert(tableAccounts, &user)
}

func (t *memTx) GetAccountById(id string) (User, error) {
	raw, err := t.first(tableAccounts, indexId, id)
	if err != nil {
		return User{}, err
	}
	return *raw.(*User), nil
}

func (t *memTx) GetAccountByEmail(email string) (User, error) {
	raw, err := t.first(tableAccounts, "email", email)
	if err != nil {
		return User{}, err
	}
	return *raw.(*User), nil
}

func (t *memTx) GetTeam(id string) (Team, error) {
	raw, err := t.first(tableTeams, indexId, id)
	if err != nil {
		return Team{}, err
	}
	return *raw.(*Team), nil
}

func (t *memTx) GetTeamByInviteCode(code string) (Team, error) {
	if code == "" {
		return Team{}, ErrNotFound
	}
	raw, err := t.first(tableTeams, "invite_code", code)
	if err != nil {
		return Team{}, err
	}
	return *raw.(*Team), nil
}

func (t *memTx) ListTeamsByLegacyOwner(userId string) ([]Team, error) {
	if userId == "" {
		return []Team{}, nil
	}
	return collect[Team](t, tableTeams, "legacy_owner_id", userId)
}

// claimInviteCode fails when another team already holds team's code.
func (t *memTx) claimInviteCode(team Team) error {
	holder, err := t.GetTeamByInviteCode(team.InviteCode)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case holder.Id != team.Id:
		return fmt.Errorf("%w: invite code is held by team %q", ErrConflict, holder.Id)
	}
	return nil
}

func (t *memTx) CreateTeam(team Team) error {
	if _, err := t.GetTeam(team.Id); err == nil {
		return fmt.Errorf("%w: team %q already exists", ErrConflict, team.Id)
	}
	if err := t.claimInviteCode(team); err != nil {
		return err
	}
	return t.insert(tableTeams, &team)
}

func (t *memTx) UpdateTeam(team Team) error {
	if _, err := t.GetTeam(team.Id); err != nil {
		return err
	}
	if err := t.claimInviteCode(team); err != nil {
		return err
	}
	return t.insert(tableTeams, &team)
}

func (t *memTx) DeleteTeam(id string) error {
	_, err := t.deleteAll(tableTeams, indexId, id)
	return err
}

func (t *memTx) GetMembership(id string) (Membership, error) {
	raw, err := t.first(tableMemberships, indexId, id)
	if err != nil {
		return Membership{}, err
	}
	return *raw.(*Membership), nil
}

func (t *memTx) GetMembershipByTeamAndUser(teamId, userId string) (Membership, error) {
	raw, err := t.first(tableMemberships, "team_user", teamId, userId)
	if err != nil {
		return Membership{}, err
	}
	return *raw.(*Membership), nil
}

func (t *memTx) ListMembershipsByTeam(teamId string) ([]Membership, error) {
	return collect[Membership](t, tableMemberships, "team_id", teamId)
}

func (t *memTx) ListMembershipsByUser(userId string) ([]Membership, error) {
	return collect[Membership](t, tableMemberships, "user_id", userId)
}

func (t *memTx) CreateMembership(m Membership) error {
	if _, err := t.GetMembershipByTeamAndUser(m.TeamId, m.UserId); err == nil {
		return fmt.Errorf("%w: membership for user %q on team %q already exists", ErrConflict, m.UserId, m.TeamId)
	}
	return t.insert(tableMemberships, &m)
}

func (t *memTx) UpdateMembershipRole(id string, role Role) error {
	m, err := t.GetMembership(id)
	if err != nil {
		return err
	}
	m.Role = role
	return t.insert(tableMemberships, &m)
}

func (t *memTx) DeleteMembership(id string) error {
	_, err := t.deleteAll(tableMemberships, indexId, id)
	return err
}

func (t *memTx) DeleteMembershipsByTeam(teamId string) (int, error) {
	return t.deleteAll(tableMemberships, "team_id", teamId)
}

func (t *memTx) CreateJoinAttempt(a JoinAttempt) error {
	return t.insert(tableJoinAttempts, &a)
}

func (t *memTx) ListJoinAttemptsSince(userId string, since time.Time) ([]JoinAttempt, error) {
	all, err := collect[JoinAttempt](t, tableJoinAttempts, "user_id", userId)
	if err != nil {
		return nil, err
	}
	attempts := make([]JoinAttempt, 0, len(all))
	for _, a := range all {
		if !a.AttemptedAt.Before(since) {
			attempts = append(attempts, a)
		}
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].AttemptedAt.Before(attempts[j].AttemptedAt)
	})
	return attempts, nil
}

func (t *memTx) DeleteJoinAttemptsBefore(before time.Time) (int, error) {
	all, err := collect[JoinAttempt](t, tableJoinAttempts, indexId+"_prefix", "")
	if err != nil {
		return 0, err
	}
	var n int
	for _, a := range all {
		if a.AttemptedAt.Before(before) {
			if _, err := t.deleteAll(tableJoinAttempts, indexId, a.Id); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func copyConversation(c Conversation) Conversation {
	c.ParticipantIds = slices.Clone(c.ParticipantIds)
	return c
}

func (t *memTx) GetConversation(id string) (Conversation, error) {
	raw, err := t.first(tableConversations, indexId, id)
	if err != nil {
		return Conversation{}, err
	}
	return copyConversation(*raw.(*Conversation)), nil
}

func (t *memTx) ListConversationsByTeam(teamId string) ([]Conversation, error) {
	convs, err := collect[Conversation](t, tableConversations, "team_id", teamId)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i] = copyConversation(convs[i])
	}
	return convs, nil
}

func (t *memTx) FindDirectConversation(teamId, userA, userB string) (Conversation, error) {
	convs, err := t.ListConversationsByTeam(teamId)
	if err != nil {
		return Conversation{}, err
	}
	want := sortedPair(userA, userB)
	for _, c := range convs {
		if c.Type != ConversationDirect || len(c.ParticipantIds) != 2 {
			continue
		}
		if sortedPair(c.ParticipantIds[0], c.ParticipantIds[1]) == want {
			return c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func sortedPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func (t *memTx) CreateConversation(c Conversation) error {
	c = copyConversation(c)
	return t.insert(tableConversations, &c)
}

func (t *memTx) UpdateConversationLastMessageAt(id string, at time.Time) error {
	c, err := t.GetConversation(id)
	if err != nil {
		return err
	}
	c.LastMessageAt = at
	return t.insert(tableConversations, &c)
}

func (t *memTx) DeleteConversationsByTeam(teamId string) (int, error) {
	convs, err := t.ListConversationsByTeam(teamId)
	if err != nil {
		return 0, err
	}
	for _, c := range convs {
		if _, err := t.DeleteReadReceiptsByConversation(c.Id); err != nil {
			return 0, err
		}
	}
	return t.deleteAll(tableConversations, "team_id", teamId)
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].Id < msgs[j].Id
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func (t *memTx) GetMessage(id string) (Message, error) {
	raw, err := t.first(tableMessages, indexId, id)
	if err != nil {
		return Message{}, err
	}
	return *raw.(*Message), nil
}

func (t *memTx) ListMessages(conversationId string) ([]Message, error) {
	msgs, err := collect[Message](t, tableMessages, "conversation_id", conversationId)
	if err != nil {
		return nil, err
	}
	sortMessages(msgs)
	return msgs, nil
}

func (t *memTx) LatestMessage(conversationId string) (Message, error) {
	msgs, err := t.ListMessages(conversationId)
	if err != nil {
		return Message{}, err
	}
	if len(msgs) == 0 {
		return Message{}, ErrNotFound
	}
	return msgs[len(msgs)-1], nil
}

func (t *memTx) CreateMessage(msg Message) error {
	return t.insert(tableMessages, &msg)
}

func (t *memTx) UpdateMessageContent(id, content string, editedAt time.Time) error {
	msg, err := t.GetMessage(id)
	if err != nil {
		return err
	}
	msg.Content = content
	msg.EditedAt = &editedAt
	return t.insert(tableMessages, &msg)
}

func (t *memTx) DeleteMessage(id string) error {
	_, err := t.deleteAll(tableMessages, indexId, id)
	return err
}

func (t *memTx) DeleteMessagesByTeam(teamId string) (int, error) {
	return t.deleteAll(tableMessages, "team_id", teamId)
}

func (t *memTx) GetReadReceipt(conversationId, userId string) (ReadReceipt, error) {
	raw, err := t.first(tableReadReceipts, "conversation_user", conversationId, userId)
	if err != nil {
		return ReadReceipt{}, err
	}
	return *raw.(*ReadReceipt), nil
}

func (t *memTx) UpsertReadReceipt(r ReadReceipt) error {
	existing, err := t.GetReadReceipt(r.ConversationId, r.UserId)
	switch {
	case err == nil:
		existing.LastReadAt = r.LastReadAt
		return t.insert(tableReadReceipts, &existing)
	case errors.Is(err, ErrNotFound):
		return t.insert(tableReadReceipts, &r)
	default:
		return err
	}
}

func (t *memTx) DeleteReadReceiptsByConversation(conversationId string) (int, error) {
	return t.deleteAll(tableReadReceipts, "conversation_id", conversationId)
}

func (t *memTx) CreatePlayer(p Player) error {
	return t.insert(tablePlayers, &p)
}

func (t *memTx) ListPlayersByTeam(teamId string) ([]Player, error) {
	return collect[Player](t, tablePlayers, "team_id", teamId)
}

func (t *memTx) DeletePlayersByTeam(teamId string) (int, error) {
	return t.deleteAll(tablePlayers, "team_id", teamId)
}

func (t *memTx) CreateAssessment(a Assessment) error {
	return t.insert(tableAssessments, &a)
}

func (t *memTx) ListAssessmentsByTeam(teamId string) ([]Assessment, error) {
	return collect[Assessment](t, tableAssessments, "team_id", teamId)
}

func (t *memTx) DeleteAssessmentsByTeam(teamId string) (int, error) {
	return t.deleteAll(tableAssessments, "team_id", teamId)
}
