package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"condor-aog/core/incidents"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

type IncidentsHandler struct {
	engine *incidents.Engine
	logger *utils.Logger
}

func NewIncidentsHandler(engine *incidents.Engine, logger *utils.Logger) *IncidentsHandler {
	return &IncidentsHandler{engine: engine, logger: logger}
}

var validSeverity = map[string]struct{}{
	store.SeverityCritical: {},
	store.SeverityHigh:     {},
	store.SeverityMedium:   {},
	store.SeverityLow:      {},
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	filter := store.IncidentFilter{
		StationCode: r.URL.Query().Get("station"),
		Status:      strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))),
		AircraftID:  strings.TrimSpace(r.URL.Query().Get("aircraft_id")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	items, err := h.engine.List(r.Context(), actor, filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	inc, err := h.engine.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Report(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		AircraftID        string     `json:"aircraft_id"`
		StationCode       string     `json:"station_code"`
		Severity          string     `json:"severity"`
		Issue             string     `json:"issue"`
		ATAChapter        string     `json:"ata_chapter"`
		EstimatedRepairAt *time.Time `json:"estimated_repair_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.AircraftID) == "" || strings.TrimSpace(payload.Issue) == "" {
		http.Error(w, "aircraft_id and issue required", http.StatusBadRequest)
		return
	}
	severity := strings.ToLower(strings.TrimSpace(payload.Severity))
	if severity != "" {
		if _, ok := validSeverity[severity]; !ok {
			http.Error(w, "invalid severity", http.StatusBadRequest)
			return
		}
	}
	inc, err := h.engine.ReportAOG(r.Context(), actor, incidents.ReportRequest{
		AircraftID:        payload.AircraftID,
		StationCode:       payload.StationCode,
		Severity:          severity,
		Issue:             payload.Issue,
		ATAChapter:        payload.ATAChapter,
		EstimatedRepairAt: payload.EstimatedRepairAt,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *IncidentsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		StaffIDs []string `json:"staff_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	inc, err := h.engine.AssignTeam(r.Context(), actor, chi.URLParam(r, "id"), payload.StaffIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) Advance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Target         string `json:"target"`
		AircraftStatus string `json:"aircraft_status"`
		Note           string `json:"note"`
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
	inc, err := h.engine.Advance(r.Context(), actor, incidents.AdvanceRequest{
		IncidentID:     chi.URLParam(r, "id"),
		Target:         target,
		AircraftStatus: strings.ToLower(strings.TrimSpace(payload.AircraftStatus)),
		Note:           payload.Note,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *IncidentsHandler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Body) == "" {
		http.Error(w, "body required", http.StatusBadRequest)
		return
	}
	msg, err := h.engine.PostUpdate(r.Context(), actor, chi.URLParam(r, "id"), payload.Body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *IncidentsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	msgs, err := h.engine.Messages(r.Context(), actor, chi.URLParam(r, "id"), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": msgs})
}
