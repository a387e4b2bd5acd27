package yard

import "errors"

var (
	ErrInvalidState      = errors.New("yard: invalid stage state")
	ErrInvalidTransition = errors.New("yard: invalid stage transition")
	ErrNegativeWaitTime  = errors.New("yard: negative wait time")
	ErrNegativeStdTime   = errors.New("yard: negative standard time")
	ErrMissingStage      = errors.New("yard: missing stage")
	ErrStageOrder        = errors.New("yard: stages out of order")
	ErrStageRegression   = errors.New("yard: stage moved backwards")
	ErrEmptyVehicleID    = errors.New("yard: empty vehicle id")
)
