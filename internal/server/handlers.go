package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/desertthunder/mlsync/internal/models"
)

const defaultRunLimit = 20

// RunLister reads the sync run history.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

// StatusHandler serves daemon health and recent runs.
type StatusHandler struct {
	runs    RunLister
	working func() bool
}

// NewStatusHandler reports runs from runs. working tells whether a sync is in progress and may be nil.
func NewStatusHandler(runs RunLister, working func() bool) *StatusHandler {
	if working == nil {
		working = func() bool { return false }
	}
	return &StatusHandler{runs: runs, working: working}
}

func (h *StatusHandler) Routes() []string { return []string{"/healthz", "/runs"} }

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/healthz":
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "syncing": h.working()})
	case "/runs":
		limit := defaultRunLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := h.runs.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []*models.SyncRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	default:
		http.NotFound(w, r)
	}
}

// SyncHandler queues sync runs on request.
type SyncHandler struct {
	trigger func(repair bool)
}

// NewSyncHandler calls trigger for every accepted POST /sync.
func NewSyncHandler(trigger func(repair bool)) *SyncHandler {
	return &SyncHandler{trigger: trigger}
}

func (h *SyncHandler) Routes() []string { return []string{"/sync"} }

func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	repair := false
	if v := r.URL.Query().Get("repair"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "repair must be a boolean", http.StatusBadRequest)
			return
		}
		repair = b
	}

	h.trigger(repair)
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "repair": repair})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
