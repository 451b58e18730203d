package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/npezzotti/go-roster/internal/access"
	"github.com/npezzotti/go-roster/internal/database"
	"github.com/npezzotti/go-roster/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultJwtExpiration = 24 * time.Hour
	tokenCookieKey       = "token"
	minPasswordLength    = 8
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// Session is returned on login so that clients which cannot hold cookies can
// send the token as a bearer credential instead.
type Session struct {
	User      types.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func toUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		DisplayName:  u.DisplayName,
		EmailAddress: u.EmailAddress,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (s *RosterApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" || len(req.Password) < minPasswordLength {
		s.writeError(w, NewBadRequestError())
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	now := time.Now().UTC()
	newUser := database.User{
		Id:           uuid.NewString(),
		DisplayName:  req.DisplayName,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.Update(r.Context(), func(tx database.Tx) error {
		if _, err := tx.GetAccountByEmail(newUser.EmailAddress); err == nil {
			return NewConflictError("an account with that email already exists")
		} else if !errors.Is(err, database.ErrNotFound) {
			return err
		}
		return tx.CreateAccount(newUser)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.log.Infow("account created", "user_id", newUser.Id)
	s.writeJson(w, http.StatusCreated, toUser(newUser))
}

func (s *RosterApp) session(w http.ResponseWriter, r *http.Request) {
	caller := access.CallerFromContext(r.Context())

	user, err := s.getAccount(r.Context(), caller.UserId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

func (s *RosterApp) getAccount(ctx context.Context, userId string) (database.User, error) {
	var user database.User
	err := s.store.View(ctx, func(tx database.Tx) error {
		var err error
		user, err = tx.GetAccountById(userId)
		return err
	})
	return user, err
}

func (s *RosterApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := decodeJson(r, &lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	var dbUser database.User
	err := s.store.View(r.Context(), func(tx database.Tx) error {
		var err error
		dbUser, err = tx.GetAccountByEmail(strings.ToLower(strings.TrimSpace(lr.Email)))
		return err
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewUnauthorizedError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	expiresAt := time.Now().Add(defaultJwtExpiration)
	token, err := s.createJwtForSession(dbUser.Id, expiresAt)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, expiresAt))

	s.writeJson(w, http.StatusOK, Session{
		User:      toUser(dbUser),
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	})
}

func createJwtCookie(tokenString string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *RosterApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Unix(0, 0)))
	w.WriteHeader(http.StatusNoContent)
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func (s *RosterApp) createJwtForSession(userId string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userId,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	return token.SignedString(s.signingKey)
}

func (s *RosterApp) extractUserIdFromToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("missing subject claim")
	}

	return claims.Subject, nil
}
