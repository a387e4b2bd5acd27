package alerts

import (
	"errors"
	"fmt"
	"time"

	yard "yard-ttms/internal/yard/domain"
)

// Level is the alert severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

var (
	// ErrEmptyAlertID is returned when raising an alert without id.
	ErrEmptyAlertID = errors.New("alerts: empty alert id")
	// ErrEmptyVehicle is returned when an alert has no vehicle reference.
	ErrEmptyVehicle = errors.New("alerts: empty vehicle")
	// ErrInvalidStage is returned for an unknown stage key.
	ErrInvalidStage = errors.New("alerts: invalid stage")
)

// AlertEvent is one raised delay alert.
type AlertEvent struct {
	ID              string        `json:"id"`
	VehicleID       string        `json:"vehicle_id"`
	Registration    string        `json:"registration"`
	Stage           yard.StageKey `json:"stage"`
	WaitTime        int           `json:"wait_time"`
	StandardTime    int           `json:"standard_time"`
	ExceedanceRatio float64       `json:"exceedance_ratio"`
	Level           Level         `json:"level"`
	Timestamp       time.Time     `json:"timestamp"`
	Acknowledged    bool          `json:"acknowledged"`
	AcknowledgedBy  string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty"`
	Message         string        `json:"message"`
	Recipients      []string      `json:"recipients,omitempty"`
}

// Key identifies the logical alert condition.
func (a AlertEvent) Key() string {
	return ConditionKey(a.VehicleID, a.Stage)
}

// Validate checks required fields.
func (a AlertEvent) Validate() error {
	if a.ID == "" {
		return ErrEmptyAlertID
	}
	if a.VehicleID == "" && a.Registration == "" {
		return ErrEmptyVehicle
	}
	if !a.Stage.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStage, a.Stage)
	}
	return nil
}

// ConditionKey joins vehicle and stage.
func ConditionKey(vehicleID string, stage yard.StageKey) string {
	return vehicleID + "|" + string(stage)
}

// Message renders the operator-facing text.
func Message(registration string, stage yard.StageKey, waitTime int) string {
	return fmt.Sprintf("Vehicle %s is delayed at %s (%dm)", registration, stage, waitTime)
}

// LevelFor maps a stage classification to an alert level.
func LevelFor(c yard.Classification) Level {
	switch {
	case c.Status == yard.StatusCritical:
		return LevelCritical
	case c.ShouldAlert:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// Observation is one sample of a vehicle's stage.
type Observation struct {
	VehicleID    string
	Registration string
	Stage        yard.StageKey
	State        yard.StageState
}
