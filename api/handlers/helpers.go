package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"condor-aog/core/auth"
	"condor-aog/core/defects"
	"condor-aog/core/fleet"
	"condor-aog/core/incidents"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// actorFrom builds the acting identity from the session record the
// middleware stashed in the context. Routes behind withSession always have
// one.
func actorFrom(r *http.Request) (rbac.Actor, bool) {
	val := r.Context().Value(auth.SessionContextKey)
	if val == nil {
		return rbac.Actor{}, false
	}
	rec := val.(*store.SessionRecord)
	return rbac.Actor{UserID: rec.UserID, Role: rbac.Role(rec.Role)}, true
}

// respondServiceError translates domain sentinels into HTTP statuses. A
// duplicate incident is a conflict that carries the existing incident id.
func respondServiceError(w http.ResponseWriter, err error) {
	var dup *incidents.DuplicateIncidentError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":                "duplicate_incident",
			"existing_incident_id": dup.ExistingID,
		})
	case errors.Is(err, rbac.ErrPermissionDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "version conflict", http.StatusConflict)
	case errors.Is(err, incidents.ErrInvalidTransition),
		errors.Is(err, defects.ErrInvalidStatusChange):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, defects.ErrInvalidDeferral):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, incidents.ErrIncidentNotFound),
		errors.Is(err, defects.ErrDefectNotFound),
		errors.Is(err, fleet.ErrAircraftNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
