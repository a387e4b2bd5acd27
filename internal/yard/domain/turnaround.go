package yard

import "time"

// ComputeTTR sums the wait time of completed stages only.
func ComputeTTR(v VehicleRecord) int {
	total := 0
	for _, key := range Stages {
		st := v.Stage(key)
		if st.State != StateCompleted {
			continue
		}
		if st.WaitTime > 0 {
			total += st.WaitTime
		}
	}
	return total
}

// ProjectedStageTimestamps walks the stages from the entry time, advancing by
// the actual wait of completed stages and the standard time of the others.
func ProjectedStageTimestamps(v VehicleRecord) map[StageKey]time.Time {
	out := make(map[StageKey]time.Time, len(Stages))
	current := v.CreatedAt
	for _, key := range Stages {
		st := v.Stage(key)
		minutes := st.StdTime
		if st.State == StateCompleted {
			minutes = st.WaitTime
		}
		if minutes < 0 {
			minutes = 0
		}
		current = current.Add(time.Duration(minutes) * time.Minute)
		out[key] = current
	}
	return out
}

// Retired reports whether the vehicle drops out of active summaries.
func (p Policy) Retired(v VehicleRecord) bool {
	p = p.Normalize()
	return v.Finished() && ComputeTTR(v) > p.RetentionTTRMinutes
}

// Overdue reports whether a vehicle still on site has passed the retention
// threshold.
func (p Policy) Overdue(v VehicleRecord) bool {
	p = p.Normalize()
	return !v.Finished() && ComputeTTR(v) > p.RetentionTTRMinutes
}

// ActiveSummary filters out retired vehicles, preserving order.
func (p Policy) ActiveSummary(rows []VehicleRecord) []VehicleRecord {
	out := make([]VehicleRecord, 0, len(rows))
	for _, row := range rows {
		if p.Retired(row) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// MaxTTR returns the highest TTR among rows.
func MaxTTR(rows []VehicleRecord) int {
	highest := 0
	for _, row := range rows {
		if ttr := ComputeTTR(row); ttr > highest {
			highest = ttr
		}
	}
	return highest
}
