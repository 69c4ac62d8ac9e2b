package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
	"stordesk.io/internal/session"
)

const testPassword = "Sup3rsecret"

type testEnv struct {
	t        *testing.T
	server   *httptest.Server
	admin    *access.Service
	sessions *session.Service
	recorder *audit.MemoryRecorder
	attempts *session.MemoryCounter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := access.NewMemoryStore()
	admin, err := access.NewService(store)
	if err != nil {
		t.Fatalf("access.NewService: %v", err)
	}
	sessions, err := session.NewService("test-secret", session.NewMemoryRefreshStore())
	if err != nil {
		t.Fatalf("session.NewService: %v", err)
	}
	recorder := audit.NewMemoryRecorder()
	attempts := session.NewMemoryCounter(time.Minute)

	api := New(admin, sessions, audit.NewEmitter(recorder), attempts, ReadyProbe{}, Config{
		Version:     "test",
		LoginLimit:  3,
		LoginWindow: time.Minute,
		RateBurst:   10000,
	})
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &testEnv{
		t:        t,
		server:   server,
		admin:    admin,
		sessions: sessions,
		recorder: recorder,
		attempts: attempts,
	}
}

// seedManager creates the super-admin account and returns its id.
func (e *testEnv) seedManager(username string) string {
	e.t.Helper()
	ctx := e.t.Context()
	perm, err := e.admin.CreatePermission(ctx, access.CreatePermissionInput{
		Name:     "manage-everything",
		Resource: string(access.ResourceManager),
		Action:   string(access.ActionAll),
	})
	if err != nil {
		e.t.Fatalf("create manager permission: %v", err)
	}
	role, err := e.admin.CreateRole(ctx, access.CreateRoleInput{
		Name:          "managers",
		PermissionIDs: []string{perm.ID},
	})
	if err != nil {
		e.t.Fatalf("create manager role: %v", err)
	}
	user, err := e.admin.CreateUser(ctx, access.CreateUserInput{
		Username: username,
		Password: testPassword,
		RoleIDs:  []string{role.ID},
	})
	if err != nil {
		e.t.Fatalf("create manager user: %v", err)
	}
	return user.ID
}

// seedUser creates an account holding exactly the given grants.
func (e *testEnv) seedUser(username string, grants ...access.Grant) string {
	e.t.Helper()
	ctx := e.t.Context()
	permIDs := make([]string, 0, len(grants))
	for _, g := range grants {
		perm, err := e.admin.CreatePermission(ctx, access.CreatePermissionInput{
			Name:     username + "-" + string(g.Resource) + "-" + string(g.Action),
			Resource: string(g.Resource),
			Action:   string(g.Action),
		})
		if err != nil {
			e.t.Fatalf("create permission: %v", err)
		}
		permIDs = append(permIDs, perm.ID)
	}
	role, err := e.admin.CreateRole(ctx, access.CreateRoleInput{
		Name:          username + "-role",
		PermissionIDs: permIDs,
	})
	if err != nil {
		e.t.Fatalf("create role: %v", err)
	}
	user, err := e.admin.CreateUser(ctx, access.CreateUserInput{
		Username: username,
		Password: testPassword,
		RoleIDs:  []string{role.ID},
	})
	if err != nil {
		e.t.Fatalf("create user: %v", err)
	}
	return user.ID
}

func (e *testEnv) login(username, password string) (*http.Response, sessionResponse) {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	var body sessionResponse
	if resp.StatusCode == http.StatusOK {
		decodeBody(e.t, resp, &body)
	} else {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return resp, body
}

func (e *testEnv) obtainToken(username string) string {
	e.t.Helper()
	resp, body := e.login(username, testPassword)
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	return body.Token
}

func (e *testEnv) do(method, path, token string, payload any) *http.Response {
	e.t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			e.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/healthz", "", nil)
	var body map[string]any
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["service"] != "stordesk-api" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	env := newTestEnv(t)
	env.seedManager("root")
	token := env.obtainToken("root")

	resp := env.do(http.MethodGet, "/v1/nope", token, nil)
	drain(resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
