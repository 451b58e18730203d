package api

import (
	"errors"
	"net/http"

	"github.com/npezzotti/go-roster/internal/apperrors"
	"github.com/npezzotti/go-roster/internal/database"
	"github.com/npezzotti/go-roster/internal/membership"
	"github.com/npezzotti/go-roster/internal/stats"
	"github.com/npezzotti/go-roster/internal/types"
)

type TeamRequest struct {
	Name      string `json:"name"`
	Evaluator string `json:"evaluator"`
}

type JoinTeamRequest struct {
	Code string `json:"code"`
	Role string `json:"role"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

func toTeam(t database.Team, role database.Role) types.Team {
	return types.Team{
		Id:        t.Id,
		Name:      t.Name,
		Evaluator: t.Evaluator,
		TeamCode:  t.TeamCode,
		Role:      string(role),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func (s *RosterApp) getMyTeams(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.teams.GetMyTeams(r.Context(), callerOf(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	teams := make([]types.Team, 0, len(summaries))
	for _, ts := range summaries {
		teams = append(teams, toTeam(ts.Team, ts.Role))
	}

	s.writeJson(w, http.StatusOK, teams)
}

func (s *RosterApp) createTeam(w http.ResponseWriter, r *http.Request) {
	var req TeamRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	team, err := s.teams.CreateTeam(r.Context(), callerOf(r), req.Name, req.Evaluator)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.incr(stats.TeamsCreated)
	s.log.Infow("team created", "team_id", team.Id, "user_id", callerOf(r).UserId)
	s.writeJson(w, http.StatusCreated, toTeam(team, database.RoleOwner))
}

func (s *RosterApp) updateTeam(w http.ResponseWriter, r *http.Request) {
	var req TeamRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	team, err := s.teams.UpdateTeam(r.Context(), callerOf(r), r.PathValue("teamId"), req.Name, req.Evaluator)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, toTeam(team, ""))
}

func (s *RosterApp) deleteTeam(w http.ResponseWriter, r *http.Request) {
	teamId := r.PathValue("teamId")

	res, err := s.teams.DeleteTeam(r.Context(), callerOf(r), teamId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Infow("team deleted",
		"team_id", teamId,
		"memberships", res.Memberships,
		"assessments", res.Assessments,
		"players", res.Players,
		"messages", res.Messages,
		"conversations", res.Conversations,
	)
	s.writeJson(w, http.StatusOK, types.DeleteTeamResult{
		TeamId:        teamId,
		Memberships:   res.Memberships,
		Assessments:   res.Assessments,
		Players:       res.Players,
		Messages:      res.Messages,
		Conversations: res.Conversations,
	})
}

func (s *RosterApp) getMembership(w http.ResponseWriter, r *http.Request) {
	acc, err := s.teams.GetMembership(r.Context(), callerOf(r), r.PathValue("teamId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var m *types.Membership
	if acc != nil {
		m = &types.Membership{
			TeamId: acc.Team.Id,
			UserId: acc.UserId,
			Role:   string(acc.Role),
			Source: acc.Source.String(),
		}
		if acc.Membership != nil {
			m.MembershipId = acc.Membership.Id
		}
	}

	s.writeJson(w, http.StatusOK, m)
}

func (s *RosterApp) getTeamMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.teams.GetTeamMembers(r.Context(), callerOf(r), r.PathValue("teamId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := make([]types.Member, 0, len(members))
	for _, m := range members {
		resp = append(resp, toMember(m))
	}

	s.writeJson(w, http.StatusOK, resp)
}

func toMember(m membership.Member) types.Member {
	return types.Member{
		MembershipId: m.MembershipId,
		UserId:       m.UserId,
		DisplayName:  m.DisplayName,
		EmailAddress: m.EmailAddress,
		Role:         string(m.Role),
		JoinedAt:     m.JoinedAt,
		InvitedBy:    m.InvitedBy,
	}
}

func (s *RosterApp) getInviteCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.teams.GetInviteCode(r.Context(), callerOf(r), r.PathValue("teamId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var resp *types.InviteCode
	if code != nil {
		resp = &types.InviteCode{Code: code.Code, CreatedAt: code.CreatedAt}
	}

	w.Header().Set("Cache-Control", "no-store")
	s.writeJson(w, http.StatusOK, resp)
}

func (s *RosterApp) generateInviteCode(w http.ResponseWriter, r *http.Request) {
	teamId := r.PathValue("teamId")

	code, err := s.teams.GenerateInviteCode(r.Context(), callerOf(r), teamId)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Infow("invite code regenerated", "team_id", teamId)
	w.Header().Set("Cache-Control", "no-store")
	s.writeJson(w, http.StatusOK, types.InviteCode{Code: code.Code, CreatedAt: code.CreatedAt})
}

func (s *RosterApp) joinTeam(w http.ResponseWriter, r *http.Request) {
	var req JoinTeamRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	caller := callerOf(r)
	s.incr(stats.JoinAttempts)

	res, err := s.teams.JoinTeam(r.Context(), caller, req.Code, database.Role(req.Role))
	if err != nil {
		if errors.Is(err, apperrors.ErrRateLimited) {
			s.incr(stats.JoinsRateLimited)
			s.log.Warnw("join rate limited", "user_id", caller.UserId)
		} else {
			s.log.Infow("join rejected", "user_id", caller.UserId, "error", err)
		}
		s.writeError(w, err)
		return
	}

	s.log.Infow("joined team", "team_id", res.TeamId, "user_id", caller.UserId, "role", res.Role)
	s.writeJson(w, http.StatusOK, types.JoinResult{
		TeamId:   res.TeamId,
		TeamName: res.TeamName,
		Role:     string(res.Role),
	})
}

func (s *RosterApp) removeMember(w http.ResponseWriter, r *http.Request) {
	teamId, membershipId := r.PathValue("teamId"), r.PathValue("membershipId")

	if err := s.teams.RemoveMember(r.Context(), callerOf(r), teamId, membershipId); err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Infow("member removed", "team_id", teamId, "membership_id", membershipId)
	w.WriteHeader(http.StatusNoContent)
}

func (s *RosterApp) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	membershipId := r.PathValue("membershipId")
	if err := s.teams.UpdateMemberRole(r.Context(), callerOf(r), membershipId, database.Role(req.Role)); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *RosterApp) leaveTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.teams.LeaveTeam(r.Context(), callerOf(r), r.PathValue("teamId")); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
