package api

import (
	"net/http"
	"time"

	"github.com/modelforge/internal/auth"
	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/service"
)

// authResponse is the user plus the session token, for clients that cannot
// use the cookie (e.g. a websocket dialer passing ?token=)
type authResponse struct {
	*models.User
	Token string `json:"token"`
}

// handleRegister handles POST /api/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.CredentialsInput
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	user, err := s.services.Users.Register(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.startSession(w, r, user, http.StatusCreated)
}

// handleLogin handles POST /api/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req service.CredentialsInput
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	user, err := s.services.Users.Login(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.startSession(w, r, user, http.StatusOK)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	token, sess, err := s.sessions.Issue(user.ID)
	if err != nil {
		respondError(w, r, apperrors.NewInternalError("Failed to start session", err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(s.sessions.TTL() / time.Second),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, status, authResponse{User: user, Token: token})
}

// handleLogout handles POST /api/logout. The token is revoked so it can no
// longer open HTTP requests or websocket connections.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r, s.config.CookieName); token != "" {
		if err := s.sessions.Revoke(r.Context(), token); err != nil {
			logging.FromContext(r.Context()).WithError(err).Debug("logout with unusable token")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleCurrentUser handles GET /api/user
func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := s.services.Users.Get(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}
