package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	parking "yard-ttms/internal/parking/domain"
	yard "yard-ttms/internal/yard/domain"
)

// Areas served by the simulated parking feed.
var Areas = []string{"AREA-1", "AREA-2"}

const (
	gridRows      = 4
	gridCols      = 5
	gateCount     = 12
	departedCap   = 25
	firstRegister = 1000
)

// Config tunes the simulator.
type Config struct {
	Vehicles        int
	Seed            int64
	StdMinutes      int
	ParkingFlipRate float64
	GateChangeRate  float64
	AdvanceRate     float64
}

func (c Config) normalize() Config {
	if c.Vehicles <= 0 {
		c.Vehicles = 25
	}
	if c.StdMinutes <= 0 {
		c.StdMinutes = yard.DefaultStdMinutes
	}
	if c.ParkingFlipRate < 0 {
		c.ParkingFlipRate = 0
	}
	if c.GateChangeRate < 0 {
		c.GateChangeRate = 0
	}
	if c.AdvanceRate < 0 {
		c.AdvanceRate = 0
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Simulator stands in for the yard's live data source. Vehicles progress
// forward only; each Tick mutates parking cells and gates at the configured
// rates.
type Simulator struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	vehicles []yard.VehicleRecord
	departed []yard.VehicleRecord
	areas    map[string]parking.Grid
	gates    []parking.Gate
	serial   int
	lastTick time.Time
	carry    time.Duration
}

// NewSimulator seeds the initial fleet, parking areas and gates at now.
func NewSimulator(cfg Config, now time.Time) *Simulator {
	cfg = cfg.normalize()
	s := &Simulator{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		areas:    make(map[string]parking.Grid, len(Areas)),
		lastTick: now.UTC(),
	}
	for i := 0; i < cfg.Vehicles; i++ {
		s.vehicles = append(s.vehicles, s.seedVehicle(now.UTC()))
	}
	for _, area := range Areas {
		grid := parking.NewGrid(gridRows, gridCols)
		for _, row := range grid {
			for i := range row {
				row[i].Status = s.randomStatus()
			}
		}
		s.areas[area] = grid
	}
	for i := 1; i <= gateCount; i++ {
		s.gates = append(s.gates, parking.Gate{ID: fmt.Sprintf("G-%d", i), Status: s.randomStatus()})
	}
	return s
}

// VehicleRows returns the current fleet followed by recently departed vehicles.
func (s *Simulator) VehicleRows(_ context.Context) ([]yard.VehicleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]yard.VehicleRecord, 0, len(s.vehicles)+len(s.departed))
	for _, v := range s.vehicles {
		out = append(out, v.Clone())
	}
	for _, v := range s.departed {
		out = append(out, v.Clone())
	}
	return out, nil
}

// Parking returns the feed's naive parking status.
func (s *Simulator) Parking(_ context.Context) (map[string]parking.Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return parking.CloneAreas(s.areas), nil
}

// Gates returns the feed's loading gate status.
func (s *Simulator) Gates(_ context.Context) ([]parking.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]parking.Gate(nil), s.gates...), nil
}

// Tick advances the simulation to now.
func (s *Simulator) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	elapsed := now.Sub(s.lastTick) + s.carry
	if elapsed < 0 {
		elapsed = 0
	}
	s.lastTick = now
	minutes := int(elapsed / time.Minute)
	s.carry = elapsed - time.Duration(minutes)*time.Minute

	fleet := s.vehicles[:0]
	for _, v := range s.vehicles {
		v.Accrue(minutes)
		if s.rng.Float64() < s.cfg.AdvanceRate {
			if _, err := v.Advance(); err != nil {
				continue
			}
		}
		v.Progress = progressOf(v)
		if v.Finished() {
			s.depart(v)
			fleet = append(fleet, s.enter(now))
			continue
		}
		fleet = append(fleet, v)
	}
	s.vehicles = fleet

	for _, area := range Areas {
		for _, row := range s.areas[area] {
			for i := range row {
				if s.rng.Float64() >= s.cfg.ParkingFlipRate {
					continue
				}
				row[i].Status = flip(area, row[i].Status)
			}
		}
	}
	for i := range s.gates {
		if s.rng.Float64() < s.cfg.GateChangeRate {
			s.gates[i].Status = s.randomStatus()
		}
	}
}

func (s *Simulator) depart(v yard.VehicleRecord) {
	s.departed = append([]yard.VehicleRecord{v}, s.departed...)
	if len(s.departed) > departedCap {
		s.departed = s.departed[:departedCap]
	}
}

// enter admits a new vehicle at gate entry.
func (s *Simulator) enter(now time.Time) yard.VehicleRecord {
	id, reg := s.nextIdentity()
	v := yard.NewVehicleRecord(id, reg, now, s.cfg.StdMinutes)
	_, _ = v.Advance()
	s.describe(&v, reg)
	return v
}

// seedVehicle builds a vehicle part-way through the yard: stages before a
// random active stage are completed with waits up to twice the standard.
func (s *Simulator) seedVehicle(now time.Time) yard.VehicleRecord {
	id, reg := s.nextIdentity()
	std := s.cfg.StdMinutes
	activeIndex := s.rng.Intn(len(yard.Stages))
	stages := make(map[yard.StageKey]yard.StageState, len(yard.Stages))
	elapsed := 0
	for idx, key := range yard.Stages {
		st := yard.StageState{State: yard.StatePending, StdTime: std}
		switch {
		case idx < activeIndex:
			st.State = yard.StateCompleted
			st.WaitTime = s.rng.Intn(std*2 + 1)
		case idx == activeIndex:
			st.State = yard.StateActive
			st.WaitTime = s.rng.Intn(std*2 + 1)
		}
		elapsed += st.WaitTime
		stages[key] = st
	}
	v := yard.VehicleRecord{
		ID:           id,
		Registration: reg,
		Stages:       stages,
		CreatedAt:    now.Add(-time.Duration(elapsed) * time.Minute),
	}
	s.describe(&v, reg)
	return v
}

func (s *Simulator) describe(v *yard.VehicleRecord, reg string) {
	v.SerialNo = s.serial
	v.RFIDNo = "RFID-" + reg[len(reg)-4:]
	v.TareWeight = (10 + s.rng.Intn(21)) * 100
	v.WeightAfter = v.TareWeight + s.rng.Intn(3001)
	v.Progress = progressOf(*v)
}

func (s *Simulator) nextIdentity() (string, string) {
	s.serial++
	number := firstRegister + (s.serial-1)%9000
	return fmt.Sprintf("veh-%d", s.serial), fmt.Sprintf("MH12-%04d", number)
}

func (s *Simulator) randomStatus() parking.SlotStatus {
	r := s.rng.Float64()
	switch {
	case r > 0.66:
		return parking.StatusAvailable
	case r > 0.33:
		return parking.StatusOccupied
	default:
		return parking.StatusReserved
	}
}

// flip toggles AREA-1 between available and occupied and other areas
// between reserved and available.
func flip(area string, status parking.SlotStatus) parking.SlotStatus {
	if area == "AREA-1" {
		if status == parking.StatusAvailable {
			return parking.StatusOccupied
		}
		return parking.StatusAvailable
	}
	if status == parking.StatusReserved {
		return parking.StatusAvailable
	}
	return parking.StatusReserved
}

// progressOf reports completed stages as a percentage, with half credit for
// the active stage.
func progressOf(v yard.VehicleRecord) int {
	score := 0
	for _, key := range yard.Stages {
		switch v.Stage(key).State {
		case yard.StateCompleted:
			score += 2
		case yard.StateActive:
			score++
		}
	}
	return score * 100 / (2 * len(yard.Stages))
}
