package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
)

type createUserRequest struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Status      string   `json:"status"`
	RoleIDs     []string `json:"role_ids"`
}

type updateUserRequest struct {
	Email       *string   `json:"email"`
	DisplayName *string   `json:"display_name"`
	Password    *string   `json:"password"`
	Status      *string   `json:"status"`
	RoleIDs     *[]string `json:"role_ids"`
}

type createRoleRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permission_ids"`
}

type updateRoleRequest struct {
	Name          *string   `json:"name"`
	Description   *string   `json:"description"`
	PermissionIDs *[]string `json:"permission_ids"`
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
}

type updatePermissionRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Resource    *string `json:"resource"`
	Action      *string `json:"action"`
}

// --- Users ---

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page := pageFromQuery(r)
		users, total, err := a.admin.ListUsers(r.Context(), page)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeList(w, users, total, page)
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.admin.CreateUser(r.Context(), access.CreateUserInput{
			Username:    req.Username,
			Password:    req.Password,
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Status:      req.Status,
			RoleIDs:     req.RoleIDs,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "user.create", "USER", user.ID, map[string]string{
			"username": user.Username,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path, "/v1/users/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.admin.GetUser(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.admin.UpdateUser(r.Context(), id, access.UpdateUserInput{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Password:    req.Password,
			Status:      req.Status,
			RoleIDs:     req.RoleIDs,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		// Password or role changes invalidate outstanding refresh tokens;
		// issued access tokens age out on their own.
		if req.Password != nil || req.RoleIDs != nil {
			_ = a.sessions.RevokeUser(r.Context(), id)
		}
		a.auditAdmin(r, "user.update", "USER", user.ID, updateDetails(map[string]bool{
			"email":        req.Email != nil,
			"display_name": req.DisplayName != nil,
			"password":     req.Password != nil,
			"status":       req.Status != nil,
			"role_ids":     req.RoleIDs != nil,
		}))
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := a.admin.DeleteUser(r.Context(), id); err != nil {
			handleAccessError(w, r, err)
			return
		}
		_ = a.sessions.RevokeUser(r.Context(), id)
		a.auditAdmin(r, "user.delete", "USER", id, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// --- Roles ---

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page := pageFromQuery(r)
		roles, total, err := a.admin.ListRoles(r.Context(), page)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeList(w, roles, total, page)
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.admin.CreateRole(r.Context(), access.CreateRoleInput{
			Name:          req.Name,
			Description:   req.Description,
			PermissionIDs: req.PermissionIDs,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "role.create", "ROLE", role.ID, map[string]string{
			"name": role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleRoleScoped routes /v1/roles/{id} and /v1/roles/{id}/bucket-access.
func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleRoleByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "bucket-access":
		a.handleRoleBucketAccess(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		role, err := a.admin.GetRole(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.admin.UpdateRole(r.Context(), id, access.UpdateRoleInput{
			Name:          req.Name,
			Description:   req.Description,
			PermissionIDs: req.PermissionIDs,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "role.update", "ROLE", role.ID, updateDetails(map[string]bool{
			"name":           req.Name != nil,
			"description":    req.Description != nil,
			"permission_ids": req.PermissionIDs != nil,
		}))
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if err := a.admin.DeleteRole(r.Context(), id); err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "role.delete", "ROLE", id, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// --- Permissions ---

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page := pageFromQuery(r)
		perms, total, err := a.admin.ListPermissions(r.Context(), page)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeList(w, perms, total, page)
	case http.MethodPost:
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.admin.CreatePermission(r.Context(), access.CreatePermissionInput{
			Name:        req.Name,
			Description: req.Description,
			Resource:    req.Resource,
			Action:      req.Action,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "permission.create", "PERMISSION", perm.ID, map[string]string{
			"name":     perm.Name,
			"resource": string(perm.Resource),
			"action":   string(perm.Action),
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", perm.ID))
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionByID(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path, "/v1/permissions/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		perm, err := a.admin.GetPermission(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, perm)
	case http.MethodPut:
		var req updatePermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.admin.UpdatePermission(r.Context(), id, access.UpdatePermissionInput{
			Name:        req.Name,
			Description: req.Description,
			Resource:    req.Resource,
			Action:      req.Action,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "permission.update", "PERMISSION", perm.ID, updateDetails(map[string]bool{
			"name":        req.Name != nil,
			"description": req.Description != nil,
			"resource":    req.Resource != nil,
			"action":      req.Action != nil,
		}))
		writeJSON(w, http.StatusOK, perm)
	case http.MethodDelete:
		if err := a.admin.DeletePermission(r.Context(), id); err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "permission.delete", "PERMISSION", id, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// --- shared ---

func (a *API) auditAdmin(r *http.Request, action, resourceType, resourceID string, details map[string]string) {
	ev := audit.Event{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		SourceIP:     clientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       audit.StatusSuccess,
	}
	if claims, ok := sessionClaims(r); ok {
		ev.UserID = claims.UserID()
		ev.Username = claims.Username
	}
	a.trail.Emit(r.Context(), ev)
}

// updateDetails records which fields a mutation touched, never the values.
func updateDetails(touched map[string]bool) map[string]string {
	var names []string
	for field, set := range touched {
		if set {
			names = append(names, field)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return map[string]string{"fields": strings.Join(names, ",")}
}

func pathTail(path, prefix string) string {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if strings.Contains(tail, "/") {
		return ""
	}
	return tail
}
