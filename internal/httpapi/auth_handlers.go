package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
	"stordesk.io/internal/obs"
	"stordesk.io/internal/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	Token            string       `json:"token"`
	ExpiresAt        time.Time    `json:"expires_at"`
	RefreshToken     string       `json:"refresh_token"`
	RefreshExpiresAt time.Time    `json:"refresh_expires_at"`
	User             *access.User `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	// The throttle key combines account and caller so one noisy IP cannot
	// lock the account out globally, and a distributed attack against one
	// account from a single IP still burns a single budget.
	throttleKey := strings.ToLower(username) + "|" + clientIP(r)
	count, err := a.attempts.Hit(r.Context(), throttleKey)
	if err != nil {
		// Counter outage degrades to unthrottled logins rather than a
		// full login outage.
		obs.LogEntry(map[string]any{
			"level": "error",
			"msg":   "login throttle unavailable",
			"error": err.Error(),
		})
	} else if count > a.cfg.LoginLimit {
		obs.CountLogin("throttled")
		a.auditLogin(r, "", username, audit.StatusFailure, "throttled")
		w.Header().Set("Retry-After", retryAfterSeconds(a.cfg.LoginWindow))
		writeError(w, r, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	user, grants, err := a.admin.Authenticate(r.Context(), username, req.Password)
	if err != nil {
		if errors.Is(err, access.ErrBadCredentials) {
			obs.CountLogin("failure")
			a.auditLogin(r, "", username, audit.StatusFailure, "bad credentials")
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	if err := a.attempts.Reset(r.Context(), throttleKey); err != nil {
		obs.LogEntry(map[string]any{
			"level": "warn",
			"msg":   "login throttle reset failed",
			"error": err.Error(),
		})
	}

	pair, err := a.sessions.IssuePair(r.Context(), user, grants)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	obs.CountLogin("success")
	a.auditLogin(r, user.ID, user.Username, audit.StatusSuccess, "")
	a.setSessionCookie(w, pair.Access.Value)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:            pair.Access.Value,
		ExpiresAt:        pair.Access.ExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             user,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	userID, err := a.sessions.Redeem(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := a.admin.GetUser(r.Context(), userID)
	if err != nil || user.Status != access.UserStatusActive {
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	// Grants are re-resolved on refresh, so permission changes take effect
	// here even though they are frozen within a single access token.
	grants, err := a.admin.ResolveGrants(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}

	pair, err := a.sessions.IssuePair(r.Context(), user, grants)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}

	a.trail.Emit(r.Context(), audit.Event{
		UserID:    user.ID,
		Username:  user.Username,
		Action:    "auth.refresh",
		SourceIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		Status:    audit.StatusSuccess,
	})
	a.setSessionCookie(w, pair.Access.Value)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:            pair.Access.Value,
		ExpiresAt:        pair.Access.ExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             user,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := session.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := a.sessions.RevokeUser(r.Context(), claims.UserID()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	a.trail.Emit(r.Context(), audit.Event{
		UserID:    claims.UserID(),
		Username:  claims.Username,
		Action:    "auth.logout",
		SourceIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		Status:    audit.StatusSuccess,
	})
	a.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := session.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := a.admin.GetUser(r.Context(), claims.UserID())
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"grants":  claims.Grants,
		"manager": claims.IsManager(),
	})
}

func (a *API) auditLogin(r *http.Request, userID, username, status, reason string) {
	var details map[string]string
	if reason != "" {
		details = map[string]string{"reason": reason}
	}
	a.trail.Emit(r.Context(), audit.Event{
		UserID:    userID,
		Username:  username,
		Action:    "auth.login",
		Details:   details,
		SourceIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		Status:    status,
	})
}
