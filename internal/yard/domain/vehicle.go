package yard

import (
	"fmt"
	"time"
)

// VehicleRecord is one truck moving through the yard, as produced by a feed.
type VehicleRecord struct {
	ID           string                  `json:"id"`
	SerialNo     int                     `json:"sn"`
	Registration string                  `json:"reg_no"`
	RFIDNo       string                  `json:"rfid_no,omitempty"`
	TareWeight   int                     `json:"tare_wt"`
	WeightAfter  int                     `json:"wt_after"`
	Progress     int                     `json:"progress"`
	Stages       map[StageKey]StageState `json:"stages"`
	CreatedAt    time.Time               `json:"created_at"`
}

// NewVehicleRecord builds a record with every stage pending at the given standard time.
func NewVehicleRecord(id, registration string, createdAt time.Time, stdMinutes int) VehicleRecord {
	stages := make(map[StageKey]StageState, len(Stages))
	for _, key := range Stages {
		stages[key] = StageState{State: StatePending, StdTime: stdMinutes}
	}
	return VehicleRecord{
		ID:           id,
		Registration: registration,
		Stages:       stages,
		CreatedAt:    createdAt.UTC(),
	}
}

// Stage returns the state of a stage. Missing stages read as pending.
func (v VehicleRecord) Stage(key StageKey) StageState {
	if st, ok := v.Stages[key]; ok {
		return st
	}
	return StageState{State: StatePending}
}

// ActiveStage returns the single active stage, if any.
func (v VehicleRecord) ActiveStage() (StageKey, bool) {
	for _, key := range Stages {
		if v.Stage(key).State == StateActive {
			return key, true
		}
	}
	return "", false
}

// Finished reports whether the vehicle has completed gate exit.
func (v VehicleRecord) Finished() bool {
	return v.Stage(StageGateExit).State == StateCompleted
}

// Validate enforces the stage layout: completed stages, at most one active
// stage, then pending stages, with no gaps.
func (v VehicleRecord) Validate() error {
	if v.ID == "" {
		return ErrEmptyVehicleID
	}
	phase := StateCompleted
	for _, key := range Stages {
		st, ok := v.Stages[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingStage, key)
		}
		if err := st.Validate(); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		switch phase {
		case StateCompleted:
			if st.State != StateCompleted {
				phase = st.State
			}
		case StateActive, StatePending:
			if st.State != StatePending {
				return fmt.Errorf("%w: %s is %s", ErrStageOrder, key, st.State)
			}
			phase = StatePending
		}
	}
	return nil
}

// Clone returns a deep copy.
func (v VehicleRecord) Clone() VehicleRecord {
	out := v
	out.Stages = make(map[StageKey]StageState, len(v.Stages))
	for key, st := range v.Stages {
		out.Stages[key] = st
	}
	return out
}

// Accrue adds elapsed minutes to the active stage.
func (v *VehicleRecord) Accrue(minutes int) {
	if v == nil || minutes <= 0 {
		return
	}
	key, ok := v.ActiveStage()
	if !ok {
		return
	}
	st := v.Stages[key]
	st.WaitTime += minutes
	v.Stages[key] = st
}

// Advance completes the active stage and activates the next one. A vehicle
// with no active stage activates its first pending stage. Returns false when
// the vehicle has already finished.
func (v *VehicleRecord) Advance() (bool, error) {
	if v == nil {
		return false, nil
	}
	if v.Stages == nil {
		v.Stages = make(map[StageKey]StageState, len(Stages))
	}
	if key, ok := v.ActiveStage(); ok {
		done, err := v.Stages[key].Transition(StateCompleted)
		if err != nil {
			return false, err
		}
		v.Stages[key] = done
		next, ok := key.Next()
		if !ok {
			return true, nil
		}
		active, err := v.Stage(next).Transition(StateActive)
		if err != nil {
			return false, err
		}
		v.Stages[next] = active
		return true, nil
	}
	for _, key := range Stages {
		st := v.Stage(key)
		if st.State == StatePending {
			active, err := st.Transition(StateActive)
			if err != nil {
				return false, err
			}
			v.Stages[key] = active
			return true, nil
		}
	}
	return false, nil
}

// CheckProgression verifies that no stage of next moved backwards relative to prev.
func CheckProgression(prev, next VehicleRecord) error {
	for _, key := range Stages {
		if next.Stage(key).State.rank() < prev.Stage(key).State.rank() {
			return fmt.Errorf("%w: %s %s -> %s", ErrStageRegression, key, prev.Stage(key).State, next.Stage(key).State)
		}
	}
	return nil
}
