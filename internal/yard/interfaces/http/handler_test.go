package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	yardapp "yard-ttms/internal/yard/application"
	yard "yard-ttms/internal/yard/domain"
)

type fixedSource []yard.VehicleRecord

func (f fixedSource) VehicleRows(context.Context) ([]yard.VehicleRecord, error) {
	return f, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	entry := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	onSite := yard.NewVehicleRecord("veh-1", "MH12-1000", entry, 30)
	_, _ = onSite.Advance()
	gone := yard.NewVehicleRecord("veh-2", "MH12-1001", entry, 30)
	for _, key := range yard.Stages {
		gone.Stages[key] = yard.StageState{State: yard.StateCompleted, WaitTime: 60, StdTime: 30}
	}

	monitor, err := yardapp.NewMonitor(fixedSource{onSite, gone}, nil)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	if _, err := monitor.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	handler, err := NewHandler(monitor)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func TestVehicleViews(t *testing.T) {
	handler := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vehicles", nil))
	var summary yardapp.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Count != 1 || summary.Rows[0].Vehicle.ID != "veh-1" {
		t.Fatalf("unexpected active summary %+v", summary)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vehicles?view=history", nil))
	var history []yardapp.RowView
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 2 || !history[1].Retired || history[1].TTR != 300 {
		t.Fatalf("unexpected history %+v", history)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vehicles/MH12-1000", nil))
	var row yardapp.RowView
	if err := json.NewDecoder(rec.Body).Decode(&row); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if row.ActiveStage != yard.StageGateEntry {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestVehicleErrors(t *testing.T) {
	handler := newTestHandler(t)
	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/vehicles?view=bogus", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/vehicles/unknown", http.StatusNotFound},
		{http.MethodPost, "/api/v1/vehicles", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
}
