package httpapi

import (
	"fmt"
	"net/http"
)

type createMappingRequest struct {
	Region string `json:"region"`
	Bucket string `json:"bucket"`
}

type setBucketAccessRequest struct {
	MappingIDs []string `json:"mapping_ids"`
}

func (a *API) handleMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page := pageFromQuery(r)
		mappings, total, err := a.admin.ListMappings(r.Context(), page)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeList(w, mappings, total, page)
	case http.MethodPost:
		var req createMappingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		mapping, err := a.admin.CreateMapping(r.Context(), req.Region, req.Bucket)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "region_bucket.create", "STORAGE", mapping.ID, map[string]string{
			"region": mapping.Region,
			"bucket": mapping.Bucket,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/region-buckets/%s", mapping.ID))
		writeJSON(w, http.StatusCreated, mapping)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMappingByID(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path, "/v1/region-buckets/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.admin.DeleteMapping(r.Context(), id); err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.auditAdmin(r, "region_bucket.delete", "STORAGE", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleRoleBucketAccess serves the role's storage visibility grants. POST
// replaces the whole set: the request body is the desired end state, so a
// repeat of the same body is a no-op.
func (a *API) handleRoleBucketAccess(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		mappings, err := a.admin.RoleBucketAccess(r.Context(), roleID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"role_id":  roleID,
			"mappings": mappings,
		})
	case http.MethodPost:
		var req setBucketAccessRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.admin.SetRoleBucketAccess(r.Context(), roleID, req.MappingIDs); err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.auditAdmin(r, "role.bucket_access.update", "ROLE", roleID, map[string]string{
			"count": fmt.Sprintf("%d", len(req.MappingIDs)),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}
