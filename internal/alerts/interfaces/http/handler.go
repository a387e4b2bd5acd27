package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	alertapp "yard-ttms/internal/alerts/application"
	alerts "yard-ttms/internal/alerts/domain"
	"yard-ttms/internal/auth"
)

// Bucket names accepted by the list endpoint.
const (
	BucketPending      = "pending"
	BucketAcknowledged = "acknowledged"
	BucketHistory      = "history"
	BucketRecent       = "recent"
)

// Handler provides alert HTTP endpoints.
type Handler struct {
	store *alertapp.Store
}

// NewHandler constructs a handler.
func NewHandler(store *alertapp.Store) (*Handler, error) {
	if store == nil {
		return nil, errors.New("alerts handler: nil store")
	}
	return &Handler{store: store}, nil
}

// ServeHTTP handles /api/v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alerts":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleAction(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		bucket = BucketPending
	}

	var list []alerts.AlertEvent
	switch bucket {
	case BucketPending:
		list = h.store.ListPending(r.Context())
	case BucketAcknowledged:
		list = h.store.ListAcknowledged(r.Context())
	case BucketHistory:
		list = h.store.ListHistory(r.Context())
	case BucketRecent:
		limit := alertapp.DefaultRecentLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		list = h.store.Recent(r.Context(), limit)
	default:
		http.Error(w, "unknown bucket", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "ack" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	actor := auth.SubjectOr(r.Context(), "anonymous")
	if !h.store.AcknowledgeBy(r.Context(), parts[0], actor) {
		http.Error(w, "alert not pending", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":              parts[0],
		"acknowledged":    true,
		"acknowledged_by": actor,
	})
}
