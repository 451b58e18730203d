// Package membership manages teams, their invite codes and who belongs to them.
package membership

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
	"github.com/npezzotti/go-roster/internal/invite"
	"github.com/npezzotti/go-roster/internal/ratelimit"
	"github.com/teris-io/shortid"
)

type Service struct {
	store   database.Store
	limiter *ratelimit.Limiter
	now     func() time.Time

	generateCode    invite.Generator
	generateShortId func() (string, error)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithCodeGenerator(gen invite.Generator) Option {
	return func(s *Service) { s.generateCode = gen }
}

func NewService(store database.Store, opts ...Option) *Service {
	s := &Service{
		store:           store,
		limiter:         ratelimit.NewLimiter(),
		now:             time.Now,
		generateCode:    invite.Generate,
		generateShortId: shortid.Generate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Member is a team member resolved against the user directory.
type Member struct {
	MembershipId string
	UserId       string
	DisplayName  string
	EmailAddress string
	Role         database.Role
	Source       access.OwnershipSource
	JoinedAt     time.Time
	InvitedBy    string
}

type TeamSummary struct {
	Team database.Team
	Role database.Role
}

type JoinResult struct {
	TeamId   string
	TeamName string
	Role     database.Role
}

type InviteCode struct {
	Code      string
	CreatedAt time.Time
}

// CascadeResult counts the rows removed by DeleteTeam.
type CascadeResult struct {
	Memberships   int
	Assessments   int
	Players       int
	Messages      int
	Conversations int
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.InvalidArgument("Team name is required")
	}
	return name, nil
}

func (s *Service) CreateTeam(ctx context.Context, caller access.Caller, name, evaluator string) (database.Team, error) {
	if !caller.IsAuthenticated() {
		return database.Team{}, apperrors.Unauthenticated()
	}
	name, err := cleanName(name)
	if err != nil {
		return database.Team{}, err
	}

	teamId, err := s.generateShortId()
	if err != nil {
		return database.Team{}, apperrors.Internal(fmt.Errorf("generate team id: %w", err))
	}

	var team database.Team
	err = s.store.Update(ctx, func(tx database.Tx) error {
		code, err := invite.IssueUnique(tx, s.generateCode)
		if err != nil {
			return err
		}

		now := s.now()
		team = database.Team{
			Id:                  teamId,
			Name:                name,
			Evaluator:           strings.TrimSpace(evaluator),
			TeamCode:            invite.DisplayCode(name, now),
			InviteCode:          code,
			InviteCodeCreatedAt: now,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.CreateTeam(team); err != nil {
			return apperrors.Internal(fmt.Errorf("create team: %w", err))
		}

		err = tx.CreateMembership(database.Membership{
			Id:       uuid.NewString(),
			TeamId:   team.Id,
			UserId:   caller.UserId,
			Role:     database.RoleOwner,
			JoinedAt: now,
		})
		if err != nil {
			return apperrors.Internal(fmt.Errorf("create owner membership: %w", err))
		}
		return nil
	})
	if err != nil {
		return database.Team{}, err
	}
	return team, nil
}

func (s *Service) UpdateTeam(ctx context.Context, caller access.Caller, teamId, name, evaluator string) (database.Team, error) {
	name, err := cleanName(name)
	if err != nil {
		return database.Team{}, err
	}

	var team database.Team
	err = s.store.Update(ctx, func(tx database.Tx) error {
		acc, err := access.VerifyTeamModifyAccess(tx, caller, teamId, "edit teams")
		if err != nil {
			return err
		}

		team = acc.Team
		team.Name = name
		team.Evaluator = strings.TrimSpace(evaluator)
		team.UpdatedAt = s.now()
		if err := tx.UpdateTeam(team); err != nil {
			return apperrors.Internal(fmt.Errorf("update team: %w", err))
		}
		return nil
	})
	if err != nil {
		return database.Team{}, err
	}
	return team, nil
}

// DeleteTeam removes the team and everything that references it.
func (s *Service) DeleteTeam(ctx context.Context, caller access.Caller, teamId string) (CascadeResult, error) {
	var res CascadeResult
	err := s.store.Update(ctx, func(tx database.Tx) error {
		if _, err := access.VerifyTeamOwner(tx, caller, teamId, "delete teams"); err != nil {
			return err
		}

		steps := []struct {
			name  string
			count *int
			fn    func(string) (int, error)
		}{
			{"memberships", &res.Memberships, tx.DeleteMembershipsByTeam},
			{"assessments", &res.Assessments, tx.DeleteAssessmentsByTeam},
			{"players", &res.Players, tx.DeletePlayersByTeam},
			{"messages", &res.Messages, tx.DeleteMessagesByTeam},
			{"conversations", &res.Conversations, tx.DeleteConversationsByTeam},
		}
		for _, step := range steps {
			n, err := step.fn(teamId)
			if err != nil {
				return apperrors.Internal(fmt.Errorf("delete %s: %w", step.name, err))
			}
			*step.count = n
		}

		if err := tx.DeleteTeam(teamId); err != nil {
			return apperrors.Internal(fmt.Errorf("delete team: %w", err))
		}
		return nil
	})
	if err != nil {
		return CascadeResult{}, err
	}
	return res, nil
}

// GenerateInviteCode replaces the team's invite code. The old code stops
// working immediately.
func (s *Service) GenerateInviteCode(ctx context.Context, caller access.Caller, teamId string) (InviteCode, error) {
	var code InviteCode
	err := s.store.Update(ctx, func(tx database.Tx) error {
		acc, err := access.VerifyTeamOwner(tx, caller, teamId, "regenerate invite codes")
		if err != nil {
			return err
		}

		c, err := invite.IssueUnique(tx, s.generateCode)
		if err != nil {
			return err
		}

		now := s.now()
		team := acc.Team
		team.InviteCode = c
		team.InviteCodeCreatedAt = now
		team.UpdatedAt = now
		if err := tx.UpdateTeam(team); err != nil {
			return apperrors.Internal(fmt.Errorf("update invite code: %w", err))
		}

		code = InviteCode{Code: c, CreatedAt: now}
		return nil
	})
	if err != nil {
		return InviteCode{}, err
	}
	return code, nil
}

// GetInviteCode returns nil when the caller may not see the code or the
// team has none.
func (s *Service) GetInviteCode(ctx context.Context, caller access.Caller, teamId string) (*InviteCode, error) {
	var code *InviteCode
	err := s.store.View(ctx, func(tx database.Tx) error {
		acc, err := access.VerifyTeamModifyAccess(tx, caller, teamId, "view invite codes")
		if err != nil {
			return err
		}
		if acc.Team.InviteCode != "" {
			code = &InviteCode{Code: acc.Team.InviteCode, CreatedAt: acc.Team.InviteCodeCreatedAt}
		}
		return nil
	})
	if err != nil {
		return nil, access.FailClosed(err)
	}
	return code, nil
}

// JoinTeam redeems an invite code. Every call that passes the rate limiter
// is logged, and the log entry is kept even when the join is rejected.
func (s *Service) JoinTeam(ctx context.Context, caller access.Caller, code string, role database.Role) (JoinResult, error) {
	if !caller.IsAuthenticated() {
		return JoinResult{}, apperrors.Unauthenticated()
	}
	if role == "" {
		role = database.RoleCoach
	}
	if !assignable(role) {
		return JoinResult{}, apperrors.InvalidArgument("Role must be coach or viewer")
	}

	var (
		res      JoinResult
		rejected error
	)
	err := s.store.Update(ctx, func(tx database.Tx) error {
		res, rejected = JoinResult{}, nil
		now := s.now()
		if err := s.limiter.Check(tx, caller.UserId, now); err != nil {
			return err
		}

		var (
			team  database.Team
			found bool
		)
		if code := invite.Normalize(code); invite.Valid(code) {
			var err error
			team, err = tx.GetTeamByInviteCode(code)
			found = err == nil
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return apperrors.Internal(fmt.Errorf("get team by invite code: %w", err))
			}
		}

		if err := s.limiter.Log(tx, caller.UserId, found, now); err != nil {
			return err
		}
		if !found {
			rejected = apperrors.NotFound("Invalid invite code")
			return nil
		}

		_, member, err := access.RoleOf(tx, caller.UserId, team)
		if err != nil {
			return err
		}
		if member {
			rejected = apperrors.Invariant("You are already a member of this team")
			return nil
		}

		err = tx.CreateMembership(database.Membership{
			Id:       uuid.NewString(),
			TeamId:   team.Id,
			UserId:   caller.UserId,
			Role:     role,
			JoinedAt: now,
		})
		if err != nil {
			return apperrors.Internal(fmt.Errorf("create membership: %w", err))
		}

		res = JoinResult{TeamId: team.Id, TeamName: team.Name, Role: role}
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	if rejected != nil {
		return JoinResult{}, rejected
	}
	return res, nil
}

func (s *Service) RemoveMember(ctx context.Context, caller access.Caller, teamId, membershipId string) error {
	return s.store.Update(ctx, func(tx database.Tx) error {
		if _, err := access.VerifyTeamOwner(tx, caller, teamId, "remove members"); err != nil {
			return err
		}

		m, err := getMembership(tx, membershipId)
		if err != nil {
			return err
		}
		if m.TeamId != teamId {
			return apperrors.NotFound("Member not found")
		}
		if m.Role == database.RoleOwner {
			return apperrors.Invariant("The team owner cannot be removed")
		}

		if err := tx.DeleteMembership(m.Id); err != nil {
			return apperrors.Internal(fmt.Errorf("delete membership: %w", err))
		}
		return nil
	})
}

func (s *Service) UpdateMemberRole(ctx context.Context, caller access.Caller, membershipId string, role database.Role) error {
	if !caller.IsAuthenticated() {
		return apperrors.Unauthenticated()
	}
	if !assignable(role) {
		return apperrors.InvalidArgument("Role must be coach or viewer")
	}

	return s.store.Update(ctx, func(tx database.Tx) error {
		m, err := getMembership(tx, membershipId)
		if err != nil {
			return err
		}
		if _, err := access.VerifyTeamOwner(tx, caller, m.TeamId, "change member roles"); err != nil {
			return err
		}
		if m.Role == database.RoleOwner {
			return apperrors.Invariant("The team owner's role cannot be changed")
		}

		if err := tx.UpdateMembershipRole(m.Id, role); err != nil {
			return apperrors.Internal(fmt.Errorf("update membership role: %w", err))
		}
		return nil
	})
}

func (s *Service) LeaveTeam(ctx context.Context, caller access.Caller, teamId string) error {
	return s.store.Update(ctx, func(tx database.Tx) error {
		acc, err := access.VerifyTeamAccess(tx, caller, teamId)
		if err != nil {
			return err
		}
		if acc.IsOwner() {
			return apperrors.Invariant("Team owners cannot leave. Transfer ownership or delete the team instead")
		}

		if err := tx.DeleteMembership(acc.Membership.Id); err != nil {
			return apperrors.Internal(fmt.Errorf("delete membership: %w", err))
		}
		return nil
	})
}

// GetMembership returns the caller's access to the team, or nil.
func (s *Service) GetMembership(ctx context.Context, caller access.Caller, teamId string) (*access.Access, error) {
	var acc *access.Access
	err := s.store.View(ctx, func(tx database.Tx) error {
		var err error
		acc, err = access.VerifyTeamAccess(tx, caller, teamId)
		return err
	})
	if err != nil {
		return nil, access.FailClosed(err)
	}
	return acc, nil
}

// GetTeamMembers lists the team ordered by role, then join time.
func (s *Service) GetTeamMembers(ctx context.Context, caller access.Caller, teamId string) ([]Member, error) {
	members := []Member{}
	err := s.store.View(ctx, func(tx database.Tx) error {
		acc, err := access.VerifyTeamAccess(tx, caller, teamId)
		if err != nil {
			return err
		}

		grants, err := access.ListTeamAccess(tx, acc.Team)
		if err != nil {
			return err
		}
		for _, g := range grants {
			m, err := resolveMember(tx, g)
			if err != nil {
				return err
			}
			members = append(members, m)
		}
		return nil
	})
	if err != nil {
		return []Member{}, access.FailClosed(err)
	}

	slices.SortStableFunc(members, func(a, b Member) int {
		if d := roleRank(a.Role) - roleRank(b.Role); d != 0 {
			return d
		}
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	return members, nil
}

// GetMyTeams lists every team the caller can access, sorted by name.
func (s *Service) GetMyTeams(ctx context.Context, caller access.Caller) ([]TeamSummary, error) {
	teams := []TeamSummary{}
	if !caller.IsAuthenticated() {
		return teams, nil
	}

	err := s.store.View(ctx, func(tx database.Tx) error {
		grants, err := access.ListUserAccess(tx, caller.UserId)
		if err != nil {
			return err
		}
		for _, g := range grants {
			teams = append(teams, TeamSummary{Team: g.Team, Role: g.Role})
		}
		return nil
	})
	if err != nil {
		return []TeamSummary{}, access.FailClosed(err)
	}

	slices.SortStableFunc(teams, func(a, b TeamSummary) int {
		return strings.Compare(strings.ToLower(a.Team.Name), strings.ToLower(b.Team.Name))
	})
	return teams, nil
}

func getMembership(tx database.Tx, id string) (database.Membership, error) {
	m, err := tx.GetMembership(id)
	if errors.Is(err, database.ErrNotFound) {
		return database.Membership{}, apperrors.NotFound("Member not found")
	}
	if err != nil {
		return database.Membership{}, apperrors.Internal(fmt.Errorf("get membership: %w", err))
	}
	return m, nil
}

func resolveMember(tx database.Tx, g access.Access) (Member, error) {
	m := Member{UserId: g.UserId, Role: g.Role, Source: g.Source}
	if g.Membership != nil {
		m.MembershipId = g.Membership.Id
		m.JoinedAt = g.Membership.JoinedAt
		m.InvitedBy = g.Membership.InvitedBy
	} else {
		m.JoinedAt = g.Team.CreatedAt
	}

	user, err := tx.GetAccountById(g.UserId)
	switch {
	case err == nil:
		m.DisplayName = user.DisplayName
		m.EmailAddress = user.EmailAddress
	case !errors.Is(err, database.ErrNotFound):
		return Member{}, apperrors.Internal(fmt.Errorf("get account: %w", err))
	}
	return m, nil
}

// assignable reports whether role can be granted through joining or a role
// change. Ownership only comes from creating the team.
func assignable(role database.Role) bool {
	return role.Valid() && role != database.RoleOwner
}

func roleRank(r database.Role) int {
	switch r {
	case database.RoleOwner:
		return 0
	case database.RoleCoach:
		return 1
	default:
		return 2
	}
}
