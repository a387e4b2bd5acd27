package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	alerts "yard-ttms/internal/alerts/domain"
	parking "yard-ttms/internal/parking/domain"
	"yard-ttms/internal/storage"
	yard "yard-ttms/internal/yard/domain"
)

func put(t *testing.T, store storage.Store, key string, v any) {
	t.Helper()
	raw, err := storage.Encode(v)
	if err != nil {
		t.Fatalf("encode %s: %v", key, err)
	}
	err = store.Update(context.Background(), []string{key}, func(map[string][]byte) (map[string][]byte, error) {
		return map[string][]byte{key: raw}, nil
	})
	if err != nil {
		t.Fatalf("write %s: %v", key, err)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestDumpWritesEveryBucket(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, storage.KeyAlertsPending, []alerts.AlertEvent{{
		ID:           "alert-1",
		Registration: "MH12-1001",
		Stage:        yard.StageLoading,
		Level:        alerts.LevelWarning,
		Timestamp:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}})
	put(t, store, storage.KeyParkingOverrides, parking.Overrides{"AREA-1-S3": parking.StatusReserved})
	put(t, store, storage.KeyParkingColorState, map[string]parking.Color{"AREA-1-S3": parking.ColorYellow})
	put(t, store, storage.KeyVehicleParkingAssignments, map[string]parking.Assignment{"MH12-1001": {Area: "AREA-1", Label: "S3"}})
	put(t, store, storage.KeyVehicleGateAssignments, map[string]string{"MH12-1002": "G-4"})

	outDir := t.TempDir()
	files, err := dump(context.Background(), store, outDir)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if len(files) != 5 {
		t.Fatalf("expected 5 files, got %d", len(files))
	}

	pending := readCSV(t, filepath.Join(outDir, "alerts_pending.csv"))
	if len(pending) != 2 || pending[1][0] != "alert-1" {
		t.Fatalf("unexpected pending dump %v", pending)
	}
	history := readCSV(t, filepath.Join(outDir, "alerts_history.csv"))
	if len(history) != 1 {
		t.Fatalf("expected header only, got %v", history)
	}
	overrides := readCSV(t, filepath.Join(outDir, "overrides.csv"))
	if len(overrides) != 2 || overrides[1][1] != "AREA-1-S3" || overrides[1][3] != string(parking.ColorYellow) {
		t.Fatalf("unexpected overrides dump %v", overrides)
	}
	assignments := readCSV(t, filepath.Join(outDir, "assignments.csv"))
	if len(assignments) != 3 || assignments[1][2] != "AREA-1-S3" || assignments[2][2] != "G-4" {
		t.Fatalf("unexpected assignments dump %v", assignments)
	}
}
