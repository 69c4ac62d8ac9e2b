package httpapi

import (
	"net/http"
	"testing"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
)

func TestLoginSetsSessionCookie(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")

	resp, body := env.login("root", testPassword)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.Token == "" || body.RefreshToken == "" {
		t.Fatalf("expected token pair in response")
	}
	if body.User == nil || body.User.Username != "root" {
		t.Fatalf("expected user payload, got %+v", body.User)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("expected %s cookie", sessionCookie)
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie must be httpOnly and SameSite=Strict: %+v", cookie)
	}
	if cookie.MaxAge <= 0 {
		t.Fatalf("cookie max-age should mirror the token TTL, got %d", cookie.MaxAge)
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")

	resp, _ := env.login("root", "wrong-password")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = env.login("ghost", testPassword)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown user: expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginThrottleReturns429(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")

	for i := 0; i < 3; i++ {
		resp, _ := env.login("root", "wrong-password")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
	resp, _ := env.login("root", "wrong-password")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past the limit, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}

	// Even the correct password is refused while throttled.
	resp, _ = env.login("root", testPassword)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("throttle must not distinguish good credentials, got %d", resp.StatusCode)
	}
}

func TestLoginSuccessResetsThrottle(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")

	for i := 0; i < 2; i++ {
		resp, _ := env.login("root", "wrong-password")
		drainIfOpen(resp)
	}
	resp, _ := env.login("root", testPassword)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected successful login under the limit, got %d", resp.StatusCode)
	}
	// Budget is fresh again after the success.
	for i := 0; i < 3; i++ {
		resp, _ := env.login("root", "wrong-password")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d after reset: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
}

func TestRefreshRotates(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")

	_, first := env.login("root", testPassword)

	resp := env.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": first.RefreshToken,
	})
	var second sessionResponse
	decodeBody(t, resp, &second)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", resp.StatusCode)
	}
	if second.Token == "" || second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh must rotate the refresh token")
	}

	// The first refresh token is burned.
	resp = env.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": first.RefreshToken,
	})
	drain(resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh token: expected 401, got %d", resp.StatusCode)
	}
}

func TestRefreshRejectedForDeactivatedUser(t *testing.T) {
	env := newTestEnv(t)
	userID := env.seedManager("root")

	_, body := env.login("root", testPassword)

	inactive := access.UserStatusInactive
	if _, err := env.admin.UpdateUser(t.Context(), userID, access.UpdateUserInput{Status: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	resp := env.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": body.RefreshToken,
	})
	drain(resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deactivated user must not refresh, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")

	_, body := env.login("root", testPassword)

	resp := env.do(http.MethodPost, "/v1/auth/logout", body.Token, nil)
	drain(resp)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}
	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("logout should clear the session cookie")
	}

	// Refresh tokens die with the session.
	resp = env.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": body.RefreshToken,
	})
	drain(resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", resp.StatusCode)
	}
}

func TestCurrentUserReflectsClaims(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("editor", access.Grant{Resource: access.ResourceFile, Action: access.ActionUpdate})
	token := env.obtainToken("editor")

	resp := env.do(http.MethodGet, "/v1/user/current", token, nil)
	var body struct {
		User    *access.User   `json:"user"`
		Grants  []access.Grant `json:"grants"`
		Manager bool           `json:"manager"`
	}
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body.User == nil || body.User.Username != "editor" {
		t.Fatalf("unexpected user: %+v", body.User)
	}
	if body.Manager {
		t.Fatalf("editor must not be flagged as manager")
	}
	if len(body.Grants) != 1 || body.Grants[0].Resource != access.ResourceFile {
		t.Fatalf("unexpected grants: %v", body.Grants)
	}
}

func TestLoginOutcomesAreAudited(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")

	resp, _ := env.login("root", "wrong-password")
	drainIfOpen(resp)
	resp, _ = env.login("root", testPassword)
	drainIfOpen(resp)

	events, total, err := env.recorder.List(t.Context(), audit.Filter{Action: "auth.login"}, access.Page{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 login events, got %d", total)
	}
	statuses := map[string]bool{}
	for _, ev := range events {
		statuses[ev.Status] = true
		if ev.SourceIP == "" {
			t.Fatalf("audit event missing source ip: %+v", ev)
		}
	}
	if !statuses[audit.StatusSuccess] || !statuses[audit.StatusFailure] {
		t.Fatalf("expected one success and one failure event: %v", events)
	}
}

func drainIfOpen(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		drain(resp)
	}
}
