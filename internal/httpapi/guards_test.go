package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stordesk.io/internal/access"
	"stordesk.io/internal/session"
)

func TestProtectedRouteRequiresCredential(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/users", "", nil)
	drain(resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credential, got %d", resp.StatusCode)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/v1/users", "not-a-jwt", nil)
	drain(resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestPermissionDeniedIsOpaque(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("editor", access.Grant{Resource: access.ResourceFile, Action: access.ActionUpdate})
	token := env.obtainToken("editor")

	resp := env.do(http.MethodGet, "/v1/users", token, nil)
	var body map[string]any
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	// The denial must not enumerate the missing permission.
	if msg, _ := body["error"].(string); strings.Contains(msg, "USER") || strings.Contains(msg, "LIST") {
		t.Fatalf("403 body leaks required permission: %q", msg)
	}
}

func TestManagerBypassesEveryGuard(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")
	token := env.obtainToken("root")

	for _, path := range []string{"/v1/users", "/v1/roles", "/v1/permissions", "/v1/region-buckets", "/v1/audit/logs"} {
		resp := env.do(http.MethodGet, path, token, nil)
		drain(resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("manager should reach %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestAuditLogsManagerOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("auditor-wannabe", access.Grant{Resource: access.ResourceConfig, Action: access.ActionAll})
	token := env.obtainToken("auditor-wannabe")

	resp := env.do(http.MethodGet, "/v1/audit/logs", token, nil)
	drain(resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-manager, got %d", resp.StatusCode)
	}
}

func TestExpiredTokenClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seedManager("root")

	// Mint an already-expired token with a backdated clock.
	clock := time.Now().Add(-48 * time.Hour)
	backdated, err := session.NewService("test-secret", nil,
		session.WithAccessTTL(time.Hour),
		session.WithClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("session.NewService: %v", err)
	}
	tok, err := backdated.Issue(&access.User{ID: userID, Username: "root"}, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	resp := env.do(http.MethodGet, "/v1/user/current", tok.Value, nil)
	drain(resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", resp.StatusCode)
	}
	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expired token should clear the session cookie")
	}
}

func TestCookieCredentialAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")
	token := env.obtainToken("root")

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/v1/user/current", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	drain(resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cookie credential should authenticate, got %d", resp.StatusCode)
	}
}

func TestRouteGuardTiers(t *testing.T) {
	cases := []struct {
		path string
		want guardTier
	}{
		{"/healthz", tierPublic},
		{"/metrics", tierPublic},
		{"/v1/info", tierPublic},
		{"/v1/auth/login", tierPublic},
		{"/v1/auth/refresh", tierPublic},
		{"/v1/auth/logout", tierAuth},
		{"/v1/users", tierAuth},
		{"/v1/roles/r-1/bucket-access", tierAuth},
		{"/v1/audit/logs", tierAdmin},
		{"/nonexistent", tierPublic},
	}
	for _, tc := range cases {
		if got := guardFor(tc.path); got != tc.want {
			t.Fatalf("guardFor(%q) = %d, want %d", tc.path, got, tc.want)
		}
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func guardRequest(claims *session.Claims, target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if claims != nil {
		req = req.WithContext(session.ContextWithClaims(req.Context(), claims))
	}
	return req
}

func TestPermissionGuardDecorator(t *testing.T) {
	editor := &session.Claims{
		Username:         "editor",
		Grants:           []access.Grant{{Resource: access.ResourceFile, Action: access.ActionUpdate}},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-editor"},
	}
	h := requirePermission(access.ResourceFile, access.ActionUpdate)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, guardRequest(nil, "/files/1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing claims should 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, guardRequest(editor, "/files/1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("matching grant should pass, got %d", rec.Code)
	}

	denied := requirePermission(access.ResourceUser, access.ActionList)(okHandler())
	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, guardRequest(editor, "/users"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing grant should 403, got %d", rec.Code)
	}
}

func TestOwnershipGuard(t *testing.T) {
	owner := &session.Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-alice"},
	}
	manager := &session.Claims{
		Username:         "root",
		Grants:           []access.Grant{{Resource: access.ResourceManager, Action: access.ActionAll}},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-root"},
	}
	uploaderMatches := func(r *http.Request, c *session.Claims) bool {
		return r.URL.Query().Get("uploader") == c.UserID()
	}
	h := requireOwnership(uploaderMatches)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, guardRequest(nil, "/files/1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing claims should 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, guardRequest(owner, "/files/1?uploader=u-alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("owner should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, guardRequest(owner, "/files/1?uploader=u-bob"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner should 403, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "uploader") {
		t.Fatalf("403 body should not describe the check: %s", rec.Body.String())
	}

	// MANAGER bypasses the predicate entirely.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, guardRequest(manager, "/files/1?uploader=u-bob"))
	if rec.Code != http.StatusOK {
		t.Fatalf("manager should bypass ownership, got %d", rec.Code)
	}

	// A guard wired without a predicate admits managers only.
	strict := requireOwnership(nil)(okHandler())
	rec = httptest.NewRecorder()
	strict.ServeHTTP(rec, guardRequest(owner, "/files/1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("nil predicate should deny non-managers, got %d", rec.Code)
	}
}
