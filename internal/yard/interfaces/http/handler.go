package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	yardapp "yard-ttms/internal/yard/application"
)

// Handler serves the vehicle progress views.
type Handler struct {
	monitor *yardapp.Monitor
}

// NewHandler constructs a handler.
func NewHandler(monitor *yardapp.Monitor) (*Handler, error) {
	if monitor == nil {
		return nil, errors.New("vehicles handler: nil monitor")
	}
	return &Handler{monitor: monitor}, nil
}

// ServeHTTP handles GET /api/v1/vehicles and GET /api/v1/vehicles/{id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/vehicles":
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/vehicles/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/vehicles/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		row, ok := h.monitor.Row(id)
		if !ok {
			http.Error(w, "vehicle not found", http.StatusNotFound)
			return
		}
		writeJSON(w, row)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	switch view := r.URL.Query().Get("view"); view {
	case "", "active":
		writeJSON(w, h.monitor.ActiveSummary())
	case "history":
		writeJSON(w, h.monitor.History())
	default:
		http.Error(w, "view must be active or history", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
