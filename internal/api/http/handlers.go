package apihttp

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	alerts "yard-ttms/internal/alerts/domain"
	"yard-ttms/internal/observability/metrics"
	"yard-ttms/internal/reports"
	yardapp "yard-ttms/internal/yard/application"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF  = "application/pdf"
)

// VehicleSource provides vehicle rows for exports.
type VehicleSource interface {
	ActiveSummary() yardapp.Summary
	History() []yardapp.RowView
}

// AlertSource lists alert buckets for exports.
type AlertSource interface {
	ListPending(ctx context.Context) []alerts.AlertEvent
	ListAcknowledged(ctx context.Context) []alerts.AlertEvent
	ListHistory(ctx context.Context) []alerts.AlertEvent
}

// ExportHandler serves vehicle and alert report downloads.
type ExportHandler struct {
	vehicles VehicleSource
	alerts   AlertSource
	now      func() time.Time
}

// NewExportHandler constructs an ExportHandler. alertSource may be nil.
func NewExportHandler(vehicles VehicleSource, alertSource AlertSource) *ExportHandler {
	return &ExportHandler{
		vehicles: vehicles,
		alerts:   alertSource,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ServeHTTP handles GET /api/v1/exports/vehicles.{csv,xlsx,pdf} and
// GET /api/v1/exports/alerts.xlsx.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.vehicles == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/exports/")
	switch name {
	case "vehicles.csv":
		h.exportVehiclesCSV(w, r)
	case "vehicles.xlsx":
		h.exportVehiclesXLSX(w, r)
	case "vehicles.pdf":
		h.exportVehiclesPDF(w, r)
	case "alerts.xlsx":
		h.exportAlertsXLSX(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *ExportHandler) rows(r *http.Request) ([]yardapp.RowView, bool) {
	switch r.URL.Query().Get("view") {
	case "", "active":
		return h.vehicles.ActiveSummary().Rows, true
	case "history":
		return h.vehicles.History(), true
	default:
		return nil, false
	}
}

func (h *ExportHandler) exportVehiclesCSV(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rows, ok := h.rows(r)
	if !ok {
		metrics.ObserveExport("csv", metrics.ResultInvalid, time.Since(start))
		http.Error(w, "view must be active or history", http.StatusBadRequest)
		return
	}
	var buf bytes.Buffer
	if err := reports.WriteVehiclesCSV(&buf, rows); err != nil {
		metrics.ObserveExport("csv", metrics.ResultError, time.Since(start))
		http.Error(w, "write csv error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("csv", metrics.ResultSuccess, time.Since(start))
	h.writeFile(w, contentTypeCSV, "vehicles.csv", buf.Bytes())
}

func (h *ExportHandler) exportVehiclesXLSX(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rows, ok := h.rows(r)
	if !ok {
		metrics.ObserveExport("xlsx", metrics.ResultInvalid, time.Since(start))
		http.Error(w, "view must be active or history", http.StatusBadRequest)
		return
	}
	var alertList []alerts.AlertEvent
	if h.alerts != nil && r.URL.Query().Get("alerts") == "true" {
		alertList = h.allAlerts(r.Context())
	}
	payload, err := reports.BuildVehiclesXLSX(rows, alertList)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, "build xlsx error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(start))
	h.writeFile(w, contentTypeXLSX, "vehicles.xlsx", payload)
}

func (h *ExportHandler) exportVehiclesPDF(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rows, ok := h.rows(r)
	if !ok {
		metrics.ObserveExport("pdf", metrics.ResultInvalid, time.Since(start))
		http.Error(w, "view must be active or history", http.StatusBadRequest)
		return
	}
	payload, err := reports.BuildVehiclesPDF(rows, h.now())
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		http.Error(w, "build pdf error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(start))
	h.writeFile(w, contentTypePDF, "vehicles.pdf", payload)
}

func (h *ExportHandler) exportAlertsXLSX(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.alerts == nil {
		http.Error(w, "alerts not configured", http.StatusServiceUnavailable)
		return
	}
	payload, err := reports.BuildAlertsXLSX(h.allAlerts(r.Context()))
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		http.Error(w, "build xlsx error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(start))
	h.writeFile(w, contentTypeXLSX, "alerts.xlsx", payload)
}

func (h *ExportHandler) allAlerts(ctx context.Context) []alerts.AlertEvent {
	out := h.alerts.ListPending(ctx)
	out = append(out, h.alerts.ListAcknowledged(ctx)...)
	out = append(out, h.alerts.ListHistory(ctx)...)
	return out
}

func (h *ExportHandler) writeFile(w http.ResponseWriter, contentType, filename string, payload []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
