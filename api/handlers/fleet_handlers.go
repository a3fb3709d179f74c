package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"condor-aog/core/fleet"
	"condor-aog/core/store"
	"condor-aog/core/utils"
)

type FleetHandler struct {
	directory *fleet.Directory
	logger    *utils.Logger
}

func NewFleetHandler(directory *fleet.Directory, logger *utils.Logger) *FleetHandler {
	return &FleetHandler{directory: directory, logger: logger}
}

func (h *FleetHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	stations, err := h.directory.Stations(r.Context(), actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": stations})
}

// ListAircraft filters by the station query parameter; "ALL" or an empty
// value lists the whole fleet.
func (h *FleetHandler) ListAircraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	station := strings.TrimSpace(r.URL.Query().Get("station"))
	aircraft, err := h.directory.AircraftByStation(r.Context(), actor, station)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": aircraft})
}

func (h *FleetHandler) GetAircraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	a, err := h.directory.AircraftByID(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *FleetHandler) CreateAircraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Registration string `json:"registration"`
		Type         string `json:"type"`
		StationCode  string `json:"station_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	a := &store.Aircraft{
		Registration: payload.Registration,
		Type:         payload.Type,
		StationCode:  payload.StationCode,
	}
	id, err := h.directory.AddAircraft(r.Context(), actor, a)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "aircraft": a})
}

func (h *FleetHandler) UpdateAircraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	current, err := h.directory.AircraftByID(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	var payload struct {
		Type        *string `json:"type"`
		StationCode *string `json:"station_code"`
		Status      *string `json:"status"`
		Issue       *string `json:"issue"`
		Version     int     `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if payload.Version == 0 {
		http.Error(w, "version required", http.StatusBadRequest)
		return
	}
	updated := *current
	if payload.Type != nil {
		updated.Type = strings.TrimSpace(*payload.Type)
	}
	if payload.StationCode != nil {
		updated.StationCode = *payload.StationCode
	}
	if payload.Status != nil {
		st := strings.ToLower(strings.TrimSpace(*payload.Status))
		switch st {
		case store.AircraftOperational, store.AircraftMaintenance, store.AircraftAOG:
			updated.Status = st
		default:
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
	}
	if payload.Issue != nil {
		updated.Issue = strings.TrimSpace(*payload.Issue)
	}
	if err := h.directory.UpdateAircraft(r.Context(), actor, &updated, payload.Version); err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *FleetHandler) UpsertStation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var st store.Station
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.directory.UpsertStation(r.Context(), actor, &st); err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
