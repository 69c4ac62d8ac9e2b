package httpapi

import (
	"net/http"
	"strings"

	"stordesk.io/internal/access"
	"stordesk.io/internal/obs"
	"stordesk.io/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// sessionCookie carries the access token for browser clients. Its
	// max-age mirrors the token TTL so the browser and the server agree
	// on when the session dies.
	sessionCookie = "stordesk_session"
)

// guardTier is the coarse protection level of a route prefix.
type guardTier int

const (
	tierPublic guardTier = iota
	tierAuth
	tierAdmin
)

// routeGuards maps path prefixes to tiers; the longest matching prefix
// wins. The root entry keeps unknown paths public so they can 404 without
// a credential. Fine-grained (resource, action) guards wrap individual
// routes at registration.
var routeGuards = []struct {
	prefix string
	tier   guardTier
}{
	{"/healthz", tierPublic},
	{"/readyz", tierPublic},
	{"/metrics", tierPublic},
	{"/v1/info", tierPublic},
	{"/v1/auth/login", tierPublic},
	{"/v1/auth/refresh", tierPublic},
	{"/v1/audit/", tierAdmin},
	{"/v1/", tierAuth},
	{"/", tierPublic},
}

func guardFor(path string) guardTier {
	tier, longest := tierPublic, 0
	for _, g := range routeGuards {
		if strings.HasPrefix(path, g.prefix) && len(g.prefix) > longest {
			tier, longest = g.tier, len(g.prefix)
		}
	}
	return tier
}

// guard is an http.Handler decorator. Guards compose by wrapping; a route
// can stack several of them at registration.
type guard func(http.Handler) http.Handler

// requirePermission enforces a declared (resource, action) grant on the
// wrapped handler. The 403 body never enumerates what would have been
// required.
func requirePermission(resource access.Resource, action access.Action) guard {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := session.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !claims.Allows(resource, action) {
				writeError(w, r, http.StatusForbidden, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireManager gates endpoints reserved for the super-admin tier.
func requireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := session.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if !claims.IsManager() {
			writeError(w, r, http.StatusForbidden, "permission denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OwnershipPredicate reports whether the authenticated principal owns the
// resource a request addresses, e.g. the uploader of a file matching the
// session subject.
type OwnershipPredicate func(r *http.Request, claims *session.Claims) bool

// requireOwnership guards resources gated on ownership rather than a
// declared grant. Managers bypass the predicate unconditionally.
func requireOwnership(pred OwnershipPredicate) guard {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := session.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !claims.IsManager() && (pred == nil || !pred(r, claims)) {
				writeError(w, r, http.StatusForbidden, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// guardMethods routes each HTTP method through its own guard before the
// shared handler. Methods without an entry reach the handler untouched so
// it can answer 405.
func guardMethods(table map[string]guard) guard {
	return func(next http.Handler) http.Handler {
		wrapped := make(map[string]http.Handler, len(table))
		for method, g := range table {
			wrapped[method] = g(next)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h, ok := wrapped[r.Method]; ok {
				h.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withAuth applies the tier from the route table. Public paths pass
// through; auth and admin tiers authenticate the credential, read from the
// Authorization header first and then from the session cookie, and the
// admin tier additionally requires the MANAGER bypass. An expired or
// unverifiable token clears the cookie so the browser stops replaying it.
func (a *API) withAuth(next http.Handler) http.Handler {
	admin := requireManager(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		tier := guardFor(r.URL.Path)
		if tier == tierPublic {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := credentialFromRequest(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.sessions.Validate(raw)
		if err != nil {
			a.clearSessionCookie(w)
			switch err {
			case session.ErrTokenExpired:
				obs.CountTokenValidation("expired")
				writeError(w, r, http.StatusUnauthorized, "token expired")
			default:
				obs.CountTokenValidation("invalid")
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			}
			return
		}
		obs.CountTokenValidation("ok")

		h := next
		if tier == tierAdmin {
			h = admin
		}
		ctx := session.ContextWithClaims(r.Context(), claims)
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentialFromRequest(r *http.Request) (string, error) {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		return extractBearerToken(header)
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errMissingCredential
}

var errMissingCredential = &credentialError{"missing credentials"}

type credentialError struct{ msg string }

func (e *credentialError) Error() string { return e.msg }

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", &credentialError{"invalid authorization scheme"}
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingCredential
	}
	return token, nil
}

func sessionClaims(r *http.Request) (*session.Claims, bool) {
	return session.ClaimsFromContext(r.Context())
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.sessions.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
