package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"condor-aog/config"
	"condor-aog/core/auth"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

type AuthHandler struct {
	cfg      *config.AppConfig
	provider *auth.Provider
	policy   *rbac.Policy
	logger   *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, provider *auth.Provider, policy *rbac.Policy, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, provider: provider, policy: policy, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var cred auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ip, _ := splitRemote(r)
	sess, err := h.provider.Login(r.Context(), cred, ip, r.UserAgent())
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "condor_session",
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  sess.ExpiresAt,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "condor_csrf",
		Value:    sess.CSRFToken,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		Expires:  sess.ExpiresAt,
	})
	caps, _ := h.policy.CapabilitiesOf(rbac.Role(sess.Role))
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    sess.UserID,
			"email": sess.Email,
			"role":  sess.Role,
		},
		"capabilities": caps,
		"csrf_token":   sess.CSRFToken,
		"expires_at":   sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("condor_session"); err == nil && cookie.Value != "" {
		_ = h.provider.Logout(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: "condor_session", Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: "condor_csrf", Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me echoes the authenticated identity plus its capability set so the
// client can shape its navigation without guessing.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	val := r.Context().Value(auth.SessionContextKey)
	if val == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	rec := val.(*store.SessionRecord)
	caps, _ := h.policy.CapabilitiesOf(rbac.Role(rec.Role))
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    rec.UserID,
			"email": rec.Email,
			"role":  rec.Role,
		},
		"capabilities": caps,
		"expires_at":   rec.ExpiresAt.Format(time.RFC3339),
	})
}

func splitRemote(r *http.Request) (string, string) {
	host, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, ""
	}
	return host, port
}
