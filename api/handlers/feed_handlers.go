package handlers

import (
	"encoding/json"
	"net/http"

	"condor-aog/core/feed"
	"condor-aog/core/utils"
)

// FeedHandler accepts pushed flight-ops records over HTTP. The processor
// applies the same rules as the polling path.
type FeedHandler struct {
	processor *feed.Processor
	logger    *utils.Logger
}

func NewFeedHandler(processor *feed.Processor, logger *utils.Logger) *FeedHandler {
	return &FeedHandler{processor: processor, logger: logger}
}

func (h *FeedHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var batch []feed.Event
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	res := h.processor.ProcessBatch(r.Context(), batch)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"processed":  res.Processed,
		"dropped":    res.Dropped,
		"incidents":  res.Incidents,
		"duplicates": res.Duplicates,
	})
}
