package http

import (
	"encoding/json"
	"errors"
	"net/http"

	parkingapp "yard-ttms/internal/parking/application"
	parking "yard-ttms/internal/parking/domain"
)

// Handler provides parking and loading gate endpoints.
type Handler struct {
	reconciler *parkingapp.Reconciler
}

// NewHandler constructs a handler.
func NewHandler(reconciler *parkingapp.Reconciler) (*Handler, error) {
	if reconciler == nil {
		return nil, errors.New("parking handler: nil reconciler")
	}
	return &Handler{reconciler: reconciler}, nil
}

type allocateRequest struct {
	Area         string `json:"area"`
	Label        string `json:"label"`
	Gate         string `json:"gate"`
	Registration string `json:"registration"`
}

type parkingResponse struct {
	Areas       map[string]parking.Grid       `json:"areas"`
	Overrides   parking.Overrides             `json:"overrides"`
	Assignments map[string]parking.Assignment `json:"assignments"`
	RefreshedAt string                        `json:"refreshed_at,omitempty"`
}

type gatesResponse struct {
	Gates       []parking.Gate    `json:"gates"`
	Overrides   parking.Overrides `json:"overrides"`
	Assignments map[string]string `json:"assignments"`
}

// ServeHTTP handles /api/v1/parking and /api/v1/gates routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/parking":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleParking(w, r)
	case "/api/v1/gates":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGates(w, r)
	case "/api/v1/parking/allocate":
		h.handleWrite(w, r, func(req allocateRequest) (any, error) {
			err := h.reconciler.Allocate(r.Context(), req.Area, req.Label, req.Registration)
			return map[string]any{"slot": parking.SlotKey(req.Area, req.Label), "status": parking.StatusReserved}, err
		})
	case "/api/v1/gates/allocate":
		h.handleWrite(w, r, func(req allocateRequest) (any, error) {
			err := h.reconciler.AllocateGate(r.Context(), req.Gate, req.Registration)
			return map[string]any{"gate": req.Gate, "status": parking.StatusOccupied}, err
		})
	case "/api/v1/parking/revert":
		h.handleWrite(w, r, func(req allocateRequest) (any, error) {
			released, err := h.reconciler.Revert(r.Context(), req.Registration)
			return map[string]any{"registration": req.Registration, "released": released}, err
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleParking(w http.ResponseWriter, r *http.Request) {
	snap := h.reconciler.Snapshot()
	resp := parkingResponse{
		Areas:       snap.Areas,
		Overrides:   snap.Overrides,
		Assignments: h.reconciler.ParkingAssignments(r.Context()),
	}
	if !snap.RefreshedAt.IsZero() {
		resp.RefreshedAt = snap.RefreshedAt.Format(timeLayout)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGates(w http.ResponseWriter, r *http.Request) {
	snap := h.reconciler.Snapshot()
	writeJSON(w, http.StatusOK, gatesResponse{
		Gates:       snap.Gates,
		Overrides:   snap.GateOverrides,
		Assignments: h.reconciler.GateAssignments(r.Context()),
	})
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request, apply func(allocateRequest) (any, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	resp, err := apply(req)
	if err != nil {
		var vErr *parking.ValidationError
		if errors.As(err, &vErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"field": vErr.Field, "error": vErr.Error()})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
