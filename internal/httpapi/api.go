// Package httpapi is the HTTP surface of the admin console backend:
// authentication, administration CRUD, bucket visibility and the audit
// trail, all guarded by the session layer.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
	"stordesk.io/internal/obs"
	"stordesk.io/internal/session"
)

// ReadyProbe checks downstream readiness (DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the tunables of the HTTP layer.
type Config struct {
	Version       string
	SecureCookies bool
	LoginLimit    int
	LoginWindow   time.Duration
	RateBurst     int
	RatePerSecond int
}

func (c Config) withDefaults() Config {
	if c.LoginLimit <= 0 {
		c.LoginLimit = 5
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = 15 * time.Minute
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 50
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 25
	}
	return c
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	admin      *access.Service
	sessions   *session.Service
	trail      *audit.Emitter
	attempts   session.AttemptCounter
	readyProbe ReadyProbe
	cfg        Config
}

// New wires routes over the given services.
func New(admin *access.Service, sessions *session.Service, trail *audit.Emitter, attempts session.AttemptCounter, rp ReadyProbe, cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		admin:      admin,
		sessions:   sessions,
		trail:      trail,
		attempts:   attempts,
		readyProbe: rp,
		cfg:        cfg.withDefaults(),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/user/current", a.handleCurrentUser)

	// Fine-grained grants wrap each admin route; the coarse tier comes
	// from the route table applied in withAuth.
	a.mux.Handle("/v1/users", guardMethods(map[string]guard{
		http.MethodGet:  requirePermission(access.ResourceUser, access.ActionList),
		http.MethodPost: requirePermission(access.ResourceUser, access.ActionCreate),
	})(http.HandlerFunc(a.handleUsers)))
	a.mux.Handle("/v1/users/", guardMethods(map[string]guard{
		http.MethodGet:    requirePermission(access.ResourceUser, access.ActionRead),
		http.MethodPut:    requirePermission(access.ResourceUser, access.ActionUpdate),
		http.MethodDelete: requirePermission(access.ResourceUser, access.ActionDelete),
	})(http.HandlerFunc(a.handleUserByID)))
	a.mux.Handle("/v1/roles", guardMethods(map[string]guard{
		http.MethodGet:  requirePermission(access.ResourceRole, access.ActionList),
		http.MethodPost: requirePermission(access.ResourceRole, access.ActionCreate),
	})(http.HandlerFunc(a.handleRoles)))
	a.mux.Handle("/v1/roles/", guardMethods(map[string]guard{
		http.MethodGet:    requirePermission(access.ResourceRole, access.ActionRead),
		http.MethodPut:    requirePermission(access.ResourceRole, access.ActionUpdate),
		http.MethodPost:   requirePermission(access.ResourceRole, access.ActionUpdate),
		http.MethodDelete: requirePermission(access.ResourceRole, access.ActionDelete),
	})(http.HandlerFunc(a.handleRoleScoped)))
	a.mux.Handle("/v1/permissions", guardMethods(map[string]guard{
		http.MethodGet:  requirePermission(access.ResourcePermission, access.ActionList),
		http.MethodPost: requirePermission(access.ResourcePermission, access.ActionCreate),
	})(http.HandlerFunc(a.handlePermissions)))
	a.mux.Handle("/v1/permissions/", guardMethods(map[string]guard{
		http.MethodGet:    requirePermission(access.ResourcePermission, access.ActionRead),
		http.MethodPut:    requirePermission(access.ResourcePermission, access.ActionUpdate),
		http.MethodDelete: requirePermission(access.ResourcePermission, access.ActionDelete),
	})(http.HandlerFunc(a.handlePermissionByID)))
	a.mux.Handle("/v1/region-buckets", guardMethods(map[string]guard{
		http.MethodGet:  requirePermission(access.ResourceStorage, access.ActionList),
		http.MethodPost: requirePermission(access.ResourceStorage, access.ActionCreate),
	})(http.HandlerFunc(a.handleMappings)))
	a.mux.Handle("/v1/region-buckets/", guardMethods(map[string]guard{
		http.MethodDelete: requirePermission(access.ResourceStorage, access.ActionDelete),
	})(http.HandlerFunc(a.handleMappingByID)))
	a.mux.HandleFunc("/v1/audit/logs", a.handleAuditLogs)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.cfg.RateBurst, a.cfg.RatePerSecond)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "stordesk-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "stordesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAccessError maps service errors to HTTP codes. Validation
// failures carry per-field messages; everything unknown collapses to a
// generic 500 so internals never leak.
func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *access.ValidationError
	switch {
	case errors.As(err, &ve):
		payload := map[string]any{
			"error":  "validation failed",
			"fields": ve.Fields,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}

// pageFromQuery reads page/page_size with the store defaults.
func pageFromQuery(r *http.Request) access.Page {
	q := r.URL.Query()
	page := access.Page{}
	if v := q.Get("page"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			page.Number = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			page.Size = n
		}
	}
	return page
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(c-'0')
		if n > 1<<30 {
			return 0, errors.New("out of range")
		}
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

// listResponse is the common paginated envelope.
type listResponse struct {
	Items    any `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func writeList(w http.ResponseWriter, items any, total int, page access.Page) {
	page = page.Clamp()
	writeJSON(w, http.StatusOK, listResponse{
		Items:    items,
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	})
}
