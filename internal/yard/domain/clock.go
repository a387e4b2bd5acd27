package yard

// Status is the display classification of a stage.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusInactive  Status = "inactive"
	StatusActive    Status = "active"
	StatusCritical  Status = "critical"
)

const (
	DefaultLateRatio           = 1.5
	DefaultCriticalRatio       = 2.0
	DefaultStdMinutes          = 30
	DefaultRetentionTTRMinutes = 225
)

// Policy holds the threshold constants used to classify stages.
type Policy struct {
	LateRatio           float64 `yaml:"late_ratio" json:"late_ratio"`
	CriticalRatio       float64 `yaml:"critical_ratio" json:"critical_ratio"`
	DefaultStdMinutes   int     `yaml:"default_std_minutes" json:"default_std_minutes"`
	RetentionTTRMinutes int     `yaml:"retention_ttr_minutes" json:"retention_ttr_minutes"`
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LateRatio:           DefaultLateRatio,
		CriticalRatio:       DefaultCriticalRatio,
		DefaultStdMinutes:   DefaultStdMinutes,
		RetentionTTRMinutes: DefaultRetentionTTRMinutes,
	}
}

// Normalize fills unset fields with defaults.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.LateRatio <= 0 {
		p.LateRatio = def.LateRatio
	}
	if p.CriticalRatio <= 0 {
		p.CriticalRatio = def.CriticalRatio
	}
	if p.DefaultStdMinutes <= 0 {
		p.DefaultStdMinutes = def.DefaultStdMinutes
	}
	if p.RetentionTTRMinutes <= 0 {
		p.RetentionTTRMinutes = def.RetentionTTRMinutes
	}
	return p
}

// Classification is the outcome of classifying a stage.
type Classification struct {
	Status      Status  `json:"status"`
	ShouldAlert bool    `json:"should_alert"`
	ShouldBlink bool    `json:"should_blink"`
	Ratio       float64 `json:"ratio"`
}

// Ratio returns waitTime over the standard time, using the default divisor
// when the stage has no standard time.
func (p Policy) Ratio(st StageState) float64 {
	p = p.Normalize()
	std := st.StdTime
	if std <= 0 {
		std = p.DefaultStdMinutes
	}
	return float64(st.WaitTime) / float64(std)
}

// Classify evaluates a stage against the policy thresholds. The first stage
// never alerts or blinks.
func (p Policy) Classify(st StageState, isFirstStage bool) Classification {
	p = p.Normalize()
	switch st.State {
	case StateCompleted:
		return Classification{Status: StatusCompleted}
	case StateActive:
	default:
		return Classification{Status: StatusInactive}
	}

	ratio := p.Ratio(st)
	if isFirstStage {
		return Classification{Status: StatusActive, Ratio: ratio}
	}
	switch {
	case ratio >= p.CriticalRatio:
		return Classification{Status: StatusCritical, ShouldAlert: true, ShouldBlink: true, Ratio: ratio}
	case ratio > p.LateRatio:
		return Classification{Status: StatusActive, ShouldAlert: true, ShouldBlink: true, Ratio: ratio}
	default:
		return Classification{Status: StatusActive, Ratio: ratio}
	}
}

// Classify uses the default policy.
func Classify(st StageState, isFirstStage bool) Classification {
	return DefaultPolicy().Classify(st, isFirstStage)
}

// ClassifyStage classifies one stage of a vehicle.
func (p Policy) ClassifyStage(v VehicleRecord, key StageKey) Classification {
	return p.Classify(v.Stage(key), key.IsFirst())
}
