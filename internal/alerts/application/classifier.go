package application

import (
	"context"
	"errors"
	"log"
	"strings"

	alerts "yard-ttms/internal/alerts/domain"
	yard "yard-ttms/internal/yard/domain"
)

// Raiser accepts new alerts.
type Raiser interface {
	Raise(ctx context.Context, event alerts.AlertEvent) (alerts.AlertEvent, error)
}

// Classifier turns stage observations into alerts, at most one per stage
// activation.
type Classifier struct {
	policy     yard.Policy
	raiser     Raiser
	guard      *ActivationGuard
	recipients []string
	logger     *log.Logger
}

// ClassifierOption customizes the classifier.
type ClassifierOption func(*Classifier)

// WithPolicy sets the threshold policy.
func WithPolicy(policy yard.Policy) ClassifierOption {
	return func(c *Classifier) {
		c.policy = policy.Normalize()
	}
}

// WithRecipients sets the recipients copied onto every alert.
func WithRecipients(recipients []string) ClassifierOption {
	return func(c *Classifier) {
		c.recipients = append([]string(nil), recipients...)
	}
}

// WithGuard shares a guard between classifiers.
func WithGuard(guard *ActivationGuard) ClassifierOption {
	return func(c *Classifier) {
		if guard != nil {
			c.guard = guard
		}
	}
}

// WithClassifierLogger assigns a logger.
func WithClassifierLogger(logger *log.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// NewClassifier constructs a classifier raising into raiser.
func NewClassifier(raiser Raiser, opts ...ClassifierOption) (*Classifier, error) {
	if raiser == nil {
		return nil, errors.New("alerts: nil raiser")
	}
	c := &Classifier{
		policy: yard.DefaultPolicy(),
		raiser: raiser,
		guard:  NewActivationGuard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Observe evaluates one stage sample. It returns the raised alert, or nil
// when nothing was raised.
func (c *Classifier) Observe(ctx context.Context, obs alerts.Observation) (*alerts.AlertEvent, error) {
	if !obs.Stage.Valid() {
		return nil, alerts.ErrInvalidStage
	}
	vehicleID := obs.VehicleID
	if vehicleID == "" {
		vehicleID = obs.Registration
	}
	if vehicleID == "" {
		return nil, alerts.ErrEmptyVehicle
	}
	result := c.policy.Classify(obs.State, obs.Stage.IsFirst())
	key := alerts.ConditionKey(vehicleID, obs.Stage)
	if !c.guard.Observe(key, obs.State.State == yard.StateActive, result.ShouldAlert) {
		return nil, nil
	}
	event := alerts.AlertEvent{
		VehicleID:       vehicleID,
		Registration:    obs.Registration,
		Stage:           obs.Stage,
		WaitTime:        obs.State.WaitTime,
		StandardTime:    obs.State.StdTime,
		ExceedanceRatio: result.Ratio,
		Level:           alerts.LevelFor(result),
		Recipients:      append([]string(nil), c.recipients...),
	}
	raised, err := c.raiser.Raise(ctx, event)
	if err != nil {
		return nil, err
	}
	return &raised, nil
}

// ObserveVehicle samples every stage of v and returns the alerts raised.
func (c *Classifier) ObserveVehicle(ctx context.Context, v yard.VehicleRecord) []alerts.AlertEvent {
	var raised []alerts.AlertEvent
	for _, key := range yard.Stages {
		event, err := c.Observe(ctx, alerts.Observation{
			VehicleID:    v.ID,
			Registration: v.Registration,
			Stage:        key,
			State:        v.Stage(key),
		})
		if err != nil {
			if c.logger != nil {
				c.logger.Printf("alerts: observe failed vehicle=%s stage=%s err=%v", v.ID, key, err)
			}
			continue
		}
		if event != nil {
			raised = append(raised, *event)
		}
	}
	return raised
}

// Forget drops guard state for vehicles that left the feed.
func (c *Classifier) Forget(present map[string]struct{}) {
	c.guard.Retain(func(key string) bool {
		vehicleID, _, _ := strings.Cut(key, "|")
		_, ok := present[vehicleID]
		return ok
	})
}
