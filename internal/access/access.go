// Package access resolves a caller's role on a team.
//
// Every team and messaging operation passes through exactly one of the three
// gates below: VerifyTeamAccess (any member), VerifyTeamModifyAccess (owner
// or coach) and VerifyTeamOwner. Nothing is cached; the role is re-read from
// the store on every call.
package access

import (
	"errors"

	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
)

// OwnershipSource records where a role came from.
type OwnershipSource int

const (
	SourceMembership OwnershipSource = iota + 1
	// SourceLegacyField means the caller has no membership row but matches
	// the team's legacy owner field, and is treated as owner.
	SourceLegacyField
)

func (s OwnershipSource) String() string {
	switch s {
	case SourceMembership:
		return "membership"
	case SourceLegacyField:
		return "legacy_field"
	default:
		return "none"
	}
}

type Access struct {
	UserId string
	Role   database.Role
	Team   database.Team
	Source OwnershipSource
	// Membership is nil when Source is SourceLegacyField.
	Membership *database.Membership
}

func (a *Access) CanModify() bool {
	return a.Role == database.RoleOwner || a.Role == database.RoleCoach
}

func (a *Access) IsOwner() bool {
	return a.Role == database.RoleOwner
}

// VerifyTeamAccess returns the caller's access to the team, or an
// Unauthenticated, NotFound or Forbidden error.
func VerifyTeamAccess(tx database.Tx, caller Caller, teamId string) (*Access, error) {
	if !caller.IsAuthenticated() {
		return nil, apperrors.Unauthenticated()
	}

	team, err := tx.GetTeam(teamId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NotFound("Team not found")
		}
		return nil, apperrors.Internal(err)
	}

	acc, err := resolve(tx, caller.UserId, team)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, apperrors.Forbidden("You are not a member of this team")
	}
	return acc, nil
}

// VerifyTeamModifyAccess is VerifyTeamAccess restricted to owners and
// coaches. action completes the sentence "Only team owners and coaches can ...".
func VerifyTeamModifyAccess(tx database.Tx, caller Caller, teamId, action string) (*Access, error) {
	acc, err := VerifyTeamAccess(tx, caller, teamId)
	if err != nil {
		return nil, err
	}
	if !acc.CanModify() {
		return nil, apperrors.Forbidden("Only team owners and coaches can " + action)
	}
	return acc, nil
}

// VerifyTeamOwner is VerifyTeamAccess restricted to the owner. action
// completes the sentence "Only team owners can ...".
func VerifyTeamOwner(tx database.Tx, caller Caller, teamId, action string) (*Access, error) {
	acc, err := VerifyTeamAccess(tx, caller, teamId)
	if err != nil {
		return nil, err
	}
	if !acc.IsOwner() {
		return nil, apperrors.Forbidden("Only team owners can " + action)
	}
	return acc, nil
}

// RoleOf resolves userId's role on an already loaded team. ok is false when
// the user has no access.
func RoleOf(tx database.Tx, userId string, team database.Team) (database.Role, bool, error) {
	acc, err := resolve(tx, userId, team)
	if err != nil || acc == nil {
		return "", false, err
	}
	return acc.Role, true, nil
}

// resolve is the only place the legacy owner fallback is evaluated.
func resolve(tx database.Tx, userId string, team database.Team) (*Access, error) {
	m, err := tx.GetMembershipByTeamAndUser(team.Id, userId)
	switch {
	case err == nil:
		return &Access{
			UserId:     userId,
			Role:       m.Role,
			Team:       team,
			Source:     SourceMembership,
			Membership: &m,
		}, nil
	case !errors.Is(err, database.ErrNotFound):
		return nil, apperrors.Internal(err)
	}

	if team.LegacyOwnerId != "" && team.LegacyOwnerId == userId {
		return &Access{
			UserId: userId,
			Role:   database.RoleOwner,
			Team:   team,
			Source: SourceLegacyField,
		}, nil
	}
	return nil, nil
}

// ListTeamAccess returns everyone with access to team, including a legacy
// owner that has no membership row.
func ListTeamAccess(tx database.Tx, team database.Team) ([]Access, error) {
	members, err := tx.ListMembershipsByTeam(team.Id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	grants := make([]Access, 0, len(members)+1)
	legacyListed := team.LegacyOwnerId == ""
	for _, m := range members {
		if m.UserId == team.LegacyOwnerId {
			legacyListed = true
		}
		grants = append(grants, Access{
			UserId:     m.UserId,
			Role:       m.Role,
			Team:       team,
			Source:     SourceMembership,
			Membership: &m,
		})
	}
	if !legacyListed {
		grants = append(grants, Access{
			UserId: team.LegacyOwnerId,
			Role:   database.RoleOwner,
			Team:   team,
			Source: SourceLegacyField,
		})
	}
	return grants, nil
}

// ListUserAccess returns userId's access to every team they belong to.
// Memberships pointing at deleted teams are skipped.
func ListUserAccess(tx database.Tx, userId string) ([]Access, error) {
	members, err := tx.ListMembershipsByUser(userId)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	seen := make(map[string]struct{}, len(members))
	grants := make([]Access, 0, len(members))
	for _, m := range members {
		team, err := tx.GetTeam(m.TeamId)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		seen[team.Id] = struct{}{}
		grants = append(grants, Access{
			UserId:     userId,
			Role:       m.Role,
			Team:       team,
			Source:     SourceMembership,
			Membership: &m,
		})
	}

	legacy, err := tx.ListTeamsByLegacyOwner(userId)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	for _, team := range legacy {
		if _, ok := seen[team.Id]; ok {
			continue
		}
		grants = append(grants, Access{
			UserId: userId,
			Role:   database.RoleOwner,
			Team:   team,
			Source: SourceLegacyField,
		})
	}
	return grants, nil
}

// FailClosed turns the denials a query may hit (anonymous caller, missing
// target, insufficient role) into nil so queries degrade to empty results.
// Other errors pass through.
func FailClosed(err error) error {
	switch apperrors.KindOf(err) {
	case apperrors.KindUnauthenticated, apperrors.KindNotFound, apperrors.KindForbidden:
		return nil
	}
	return err
}
