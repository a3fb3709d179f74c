package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"condor-aog/core/defects"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

type DefectsHandler struct {
	ledger *defects.Ledger
	logger *utils.Logger
}

func NewDefectsHandler(ledger *defects.Ledger, logger *utils.Logger) *DefectsHandler {
	return &DefectsHandler{ledger: ledger, logger: logger}
}

var validPriority = map[string]struct{}{
	store.DefectPriorityCritical: {},
	store.DefectPriorityHigh:     {},
	store.DefectPriorityMedium:   {},
	store.DefectPriorityLow:      {},
}

func (h *DefectsHandler) ListForAircraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	items, err := h.ledger.ListForAircraft(r.Context(), actor, chi.URLParam(r, "aircraft_id"), status)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *DefectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	d, err := h.ledger.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DefectsHandler) Report(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		AircraftID  string `json:"aircraft_id"`
		Description string `json:"description"`
		System      string `json:"system"`
		Subsystem   string `json:"subsystem"`
		ATAChapter  string `json:"ata_chapter"`
		Priority    string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.AircraftID) == "" || strings.TrimSpace(payload.Description) == "" {
		http.Error(w, "aircraft_id and description required", http.StatusBadRequest)
		return
	}
	priority := strings.ToLower(strings.TrimSpace(payload.Priority))
	if priority != "" {
		if _, ok := validPriority[priority]; !ok {
			http.Error(w, "invalid priority", http.StatusBadRequest)
			return
		}
	}
	d, err := h.ledger.Report(r.Context(), actor, defects.ReportRequest{
		AircraftID:  payload.AircraftID,
		Description: payload.Description,
		System:      payload.System,
		Subsystem:   payload.Subsystem,
		ATAChapter:  payload.ATAChapter,
		Priority:    priority,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *DefectsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Target string `json:"target"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	target := strings.ToLower(strings.TrimSpace(payload.Target))
	if target == "" {
		http.Error(w, "target required", http.StatusBadRequest)
		return
	}
	d, err := h.ledger.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), target, payload.Note)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DefectsHandler) Defer(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		DeferralRef string    `json:"deferral_ref"`
		Until       time.Time `json:"until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	d, err := h.ledger.Defer(r.Context(), actor, chi.URLParam(r, "id"), payload.DeferralRef, payload.Until)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DefectsHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	d, err := h.ledger.Reopen(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
