package yard

import "fmt"

// StageKey identifies one step of the yard process.
type StageKey string

const (
	StageGateEntry           StageKey = "gateEntry"
	StageTareWeighing        StageKey = "tareWeighing"
	StageLoading             StageKey = "loading"
	StagePostLoadingWeighing StageKey = "postLoadingWeighing"
	StageGateExit            StageKey = "gateExit"
)

// Stages lists every stage in process order.
var Stages = []StageKey{
	StageGateEntry,
	StageTareWeighing,
	StageLoading,
	StagePostLoadingWeighing,
	StageGateExit,
}

// Index returns the position of the stage in process order, or -1.
func (k StageKey) Index() int {
	for i, stage := range Stages {
		if stage == k {
			return i
		}
	}
	return -1
}

// Valid returns true for one of the five known stages.
func (k StageKey) Valid() bool {
	return k.Index() >= 0
}

// IsFirst reports whether the stage opens the process.
func (k StageKey) IsFirst() bool {
	return k == Stages[0]
}

// Next returns the following stage, or false for the last one.
func (k StageKey) Next() (StageKey, bool) {
	idx := k.Index()
	if idx < 0 || idx >= len(Stages)-1 {
		return "", false
	}
	return Stages[idx+1], true
}

// State is the lifecycle position of a stage.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
)

func (s State) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateActive:
		return 1
	case StateCompleted:
		return 2
	default:
		return -1
	}
}

// Valid returns true when state is known.
func (s State) Valid() bool {
	return s.rank() >= 0
}

// StageState holds the timing of one stage in minutes.
type StageState struct {
	State    State `json:"state"`
	WaitTime int   `json:"wait_time"`
	StdTime  int   `json:"std_time"`
}

// Validate checks field invariants.
func (s StageState) Validate() error {
	if !s.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, s.State)
	}
	if s.WaitTime < 0 {
		return ErrNegativeWaitTime
	}
	if s.StdTime < 0 {
		return ErrNegativeStdTime
	}
	return nil
}

// Transition moves the stage one step forward. Stages never move backwards
// and never skip from pending straight to completed.
func (s StageState) Transition(to State) (StageState, error) {
	if !to.Valid() {
		return s, fmt.Errorf("%w: %q", ErrInvalidState, to)
	}
	if to.rank() != s.State.rank()+1 {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	next := s
	next.State = to
	if to == StateActive {
		next.WaitTime = 0
	}
	return next, nil
}
