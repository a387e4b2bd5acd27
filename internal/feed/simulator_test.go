package feed

import (
	"context"
	"reflect"
	"testing"
	"time"

	parking "yard-ttms/internal/parking/domain"
	yard "yard-ttms/internal/yard/domain"
)

var start = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func rows(t *testing.T, s *Simulator) []yard.VehicleRecord {
	t.Helper()
	out, err := s.VehicleRows(context.Background())
	if err != nil {
		t.Fatalf("vehicle rows: %v", err)
	}
	return out
}

func TestSimulatorSeedsFleet(t *testing.T) {
	s := NewSimulator(Config{Seed: 42}, start)
	fleet := rows(t, s)
	if len(fleet) != 25 {
		t.Fatalf("expected 25 vehicles, got %d", len(fleet))
	}
	if fleet[0].Registration != "MH12-1000" || fleet[24].Registration != "MH12-1024" {
		t.Fatalf("unexpected registrations %s..%s", fleet[0].Registration, fleet[24].Registration)
	}
	if fleet[3].RFIDNo != "RFID-1003" || fleet[3].SerialNo != 4 {
		t.Fatalf("unexpected descriptive fields %+v", fleet[3])
	}
	for _, v := range fleet {
		if err := v.Validate(); err != nil {
			t.Fatalf("seeded vehicle %s invalid: %v", v.ID, err)
		}
		if _, err := parking.ValidateRegistration(v.Registration); err != nil {
			t.Fatalf("seeded registration invalid: %v", err)
		}
		if _, ok := v.ActiveStage(); !ok {
			t.Fatalf("seeded vehicle %s has no active stage", v.ID)
		}
		for _, key := range yard.Stages {
			st := v.Stage(key)
			if st.StdTime != 30 || st.WaitTime > 60 {
				t.Fatalf("unexpected stage timing %+v", st)
			}
		}
		if v.WeightAfter < v.TareWeight {
			t.Fatalf("weight after loading below tare")
		}
	}
}

func TestSimulatorIsDeterministicForSeed(t *testing.T) {
	a := NewSimulator(Config{Seed: 7, AdvanceRate: 0.3, ParkingFlipRate: 0.05, GateChangeRate: 0.08}, start)
	b := NewSimulator(Config{Seed: 7, AdvanceRate: 0.3, ParkingFlipRate: 0.05, GateChangeRate: 0.08}, start)
	for i := 1; i <= 5; i++ {
		a.Tick(start.Add(time.Duration(i) * 30 * time.Second))
		b.Tick(start.Add(time.Duration(i) * 30 * time.Second))
	}
	if !reflect.DeepEqual(rows(t, a), rows(t, b)) {
		t.Fatalf("same seed must produce the same fleet")
	}
	pa, _ := a.Parking(context.Background())
	pb, _ := b.Parking(context.Background())
	if !reflect.DeepEqual(pa, pb) {
		t.Fatalf("same seed must produce the same parking")
	}
}

func TestSimulatorParkingAndGates(t *testing.T) {
	s := NewSimulator(Config{Seed: 3}, start)
	areas, _ := s.Parking(context.Background())
	if len(areas) != 2 {
		t.Fatalf("expected two areas, got %d", len(areas))
	}
	for _, area := range Areas {
		grid := areas[area]
		if len(grid) != 4 || len(grid[0]) != 5 {
			t.Fatalf("unexpected grid shape for %s", area)
		}
		if grid[2][3].Label != "S14" {
			t.Fatalf("unexpected label %s", grid[2][3].Label)
		}
	}
	gates, _ := s.Gates(context.Background())
	if len(gates) != 12 || gates[0].ID != "G-1" || gates[11].ID != "G-12" {
		t.Fatalf("unexpected gates %+v", gates)
	}

	areas["AREA-1"][0][0].Status = "bogus"
	again, _ := s.Parking(context.Background())
	if again["AREA-1"][0][0].Status == "bogus" {
		t.Fatalf("parking must be returned as a copy")
	}
}

func TestSimulatorFlipsCells(t *testing.T) {
	s := NewSimulator(Config{Seed: 5, ParkingFlipRate: 1}, start)
	before, _ := s.Parking(context.Background())
	s.Tick(start.Add(30 * time.Second))
	after, _ := s.Parking(context.Background())
	for r := range before["AREA-1"] {
		for c, cell := range before["AREA-1"][r] {
			want := parking.StatusAvailable
			if cell.Status == parking.StatusAvailable {
				want = parking.StatusOccupied
			}
			if after["AREA-1"][r][c].Status != want {
				t.Fatalf("AREA-1 %s: expected %s, got %s", cell.Label, want, after["AREA-1"][r][c].Status)
			}
		}
	}
	for r := range before["AREA-2"] {
		for c, cell := range before["AREA-2"][r] {
			want := parking.StatusReserved
			if cell.Status == parking.StatusReserved {
				want = parking.StatusAvailable
			}
			if after["AREA-2"][r][c].Status != want {
				t.Fatalf("AREA-2 %s: expected %s, got %s", cell.Label, want, after["AREA-2"][r][c].Status)
			}
		}
	}
}

func TestSimulatorProgressesForwardOnly(t *testing.T) {
	s := NewSimulator(Config{Seed: 11, AdvanceRate: 0.5}, start)
	prev := make(map[string]yard.VehicleRecord)
	for _, v := range rows(t, s) {
		prev[v.ID] = v
	}
	for i := 1; i <= 40; i++ {
		s.Tick(start.Add(time.Duration(i) * time.Minute))
		for _, v := range rows(t, s) {
			if err := v.Validate(); err != nil {
				t.Fatalf("tick %d: vehicle %s invalid: %v", i, v.ID, err)
			}
			if before, ok := prev[v.ID]; ok {
				if err := yard.CheckProgression(before, v); err != nil {
					t.Fatalf("tick %d: %v", i, err)
				}
			}
			prev[v.ID] = v
		}
	}
	fleet := rows(t, s)
	active := 0
	departed := 0
	for _, v := range fleet {
		if v.Finished() {
			departed++
		} else {
			active++
		}
	}
	if active != 25 {
		t.Fatalf("fleet size must stay at 25, got %d", active)
	}
	if departed == 0 || departed > 25 {
		t.Fatalf("expected departed vehicles capped at 25, got %d", departed)
	}
}

func TestSimulatorAccruesElapsedMinutes(t *testing.T) {
	s := NewSimulator(Config{Seed: 9, Vehicles: 1}, start)
	v := rows(t, s)[0]
	key, _ := v.ActiveStage()
	wait := v.Stage(key).WaitTime

	s.Tick(start.Add(30 * time.Second))
	s.Tick(start.Add(90 * time.Second))
	s.Tick(start.Add(3*time.Minute + 30*time.Second))
	got := rows(t, s)[0].Stage(key).WaitTime
	if got != wait+3 {
		t.Fatalf("expected wait %d, got %d", wait+3, got)
	}
}
