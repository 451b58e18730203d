package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-roster/internal/config"
	"github.com/npezzotti/go-roster/internal/database"
	"github.com/npezzotti/go-roster/internal/membership"
	"github.com/npezzotti/go-roster/internal/messaging"
	"github.com/npezzotti/go-roster/internal/stats"
	"go.uber.org/zap"
)

const (
	joinRequestsPerMinute = 10
	joinBurst             = 5
	joinVisitorTTL        = 5 * time.Minute
)

type RosterApp struct {
	log        *zap.SugaredLogger
	store      database.Store
	mux        *http.Server
	stats      stats.StatsProvider
	teams      *membership.Service
	messages   *messaging.Service
	joinGuard  *IPRateLimiter
	signingKey []byte
}

// NewRosterApp registers every route on mux and wraps it with session,
// CORS and panic recovery middleware. statsProvider may be nil.
func NewRosterApp(mux *http.ServeMux, logger *zap.SugaredLogger, store database.Store, statsProvider stats.StatsProvider, cfg *config.Config) *RosterApp {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &RosterApp{
		log:        logger,
		store:      store,
		stats:      statsProvider,
		teams:      membership.NewService(store),
		messages:   messaging.NewService(store),
		joinGuard:  NewIPRateLimiter(joinRequestsPerMinute, joinBurst, joinVisitorTTL),
		signingKey: cfg.SigningKey,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.logout)

	mux.HandleFunc("GET /api/teams", s.getMyTeams)
	mux.HandleFunc("POST /api/teams", s.createTeam)
	mux.HandleFunc("POST /api/teams/join", s.throttle(s.joinGuard, s.joinTeam))
	mux.HandleFunc("PUT /api/teams/{teamId}", s.updateTeam)
	mux.HandleFunc("DELETE /api/teams/{teamId}", s.deleteTeam)
	mux.HandleFunc("GET /api/teams/{teamId}/membership", s.getMembership)
	mux.HandleFunc("GET /api/teams/{teamId}/members", s.getTeamMembers)
	mux.HandleFunc("DELETE /api/teams/{teamId}/members/{membershipId}", s.removeMember)
	mux.HandleFunc("POST /api/teams/{teamId}/leave", s.leaveTeam)
	mux.HandleFunc("GET /api/teams/{teamId}/invite-code", s.getInviteCode)
	mux.HandleFunc("POST /api/teams/{teamId}/invite-code", s.generateInviteCode)
	mux.HandleFunc("PUT /api/memberships/{membershipId}", s.updateMemberRole)

	mux.HandleFunc("GET /api/teams/{teamId}/conversations", s.getTeamConversations)
	mux.HandleFunc("POST /api/teams/{teamId}/conversations", s.createConversation)
	mux.HandleFunc("GET /api/teams/{teamId}/messaging-members", s.getTeamMembersForMessaging)
	mux.HandleFunc("GET /api/conversations/{conversationId}", s.getConversation)
	mux.HandleFunc("GET /api/conversations/{conversationId}/messages", s.getConversationMessages)
	mux.HandleFunc("POST /api/conversations/{conversationId}/messages", s.sendMessage)
	mux.HandleFunc("POST /api/conversations/{conversationId}/read", s.markAsRead)
	mux.HandleFunc("PUT /api/messages/{messageId}", s.editMessage)
	mux.HandleFunc("DELETE /api/messages/{messageId}", s.deleteMessage)
	mux.HandleFunc("GET /api/unread-count", s.getUnreadCount)

	h := s.sessionMiddleware(mux)
	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.ExposedHeaders([]string{"Retry-After"}),
		handlers.AllowCredentials(),
	)(h)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *RosterApp) Start() error {
	s.log.Infow("starting server", "addr", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RosterApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *RosterApp) incr(name string) {
	if s.stats != nil {
		s.stats.Incr(name)
	}
}
