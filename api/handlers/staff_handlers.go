package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"condor-aog/config"
	"condor-aog/core/auth"
	"condor-aog/core/rbac"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

type StaffHandler struct {
	cfg    *config.AppConfig
	users  store.UsersStore
	policy *rbac.Policy
	audits store.AuditStore
	logger *utils.Logger
}

func NewStaffHandler(cfg *config.AppConfig, users store.UsersStore, policy *rbac.Policy, audits store.AuditStore, logger *utils.Logger) *StaffHandler {
	return &StaffHandler{cfg: cfg, users: users, policy: policy, audits: audits, logger: logger}
}

type staffDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
	LastLoginAt string `json:"last_login_at,omitempty"`
}

// List shows the staff directory without credential material.
func (h *StaffHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	items := make([]staffDTO, 0, len(users))
	for _, u := range users {
		dto := staffDTO{
			ID:       u.ID,
			Email:    u.Email,
			FullName: u.FullName,
			Role:     u.Role,
			Active:   u.Active,
		}
		if u.LastLoginAt != nil {
			dto.LastLoginAt = u.LastLoginAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		items = append(items, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *StaffHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	email := strings.ToLower(strings.TrimSpace(payload.Email))
	if err := utils.ValidateEmail(email); err != nil {
		http.Error(w, "invalid email", http.StatusBadRequest)
		return
	}
	if err := utils.ValidatePassword(payload.Password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	role := rbac.Role(strings.TrimSpace(payload.Role))
	if _, err := h.policy.CapabilitiesOf(role); err != nil {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}
	if existing, err := h.users.FindByEmail(r.Context(), email); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if existing != nil {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}
	ph, err := auth.HashPassword(payload.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	u := &store.User{
		Email:        email,
		FullName:     strings.TrimSpace(payload.FullName),
		Role:         string(role),
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		Active:       true,
	}
	id, err := h.users.Create(r.Context(), u)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.audits.Log(r.Context(), actor.UserID, "staff.create", email)
	writeJSON(w, http.StatusCreated, staffDTO{
		ID:       id,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     u.Role,
		Active:   u.Active,
	})
}

func (h *StaffHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.users.SetActive(r.Context(), id, payload.Active); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	action := "staff.deactivate"
	if payload.Active {
		action = "staff.activate"
	}
	h.audits.Log(r.Context(), actor.UserID, action, user.Email)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
