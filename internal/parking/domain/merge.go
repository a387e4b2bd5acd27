package parking

// Overrides maps slot or gate keys to forced statuses.
type Overrides map[string]SlotStatus

// ApplyOverrides returns a copy of areas with overridden cells replaced.
// Unknown override keys and invalid statuses are ignored.
func ApplyOverrides(areas map[string]Grid, overrides Overrides) map[string]Grid {
	out := make(map[string]Grid, len(areas))
	for area, grid := range areas {
		merged := grid.Clone()
		for _, row := range merged {
			for i := range row {
				if status, ok := overrides[SlotKey(area, row[i].Label)]; ok && status.Valid() {
					row[i].Status = status
				}
			}
		}
		out[area] = merged
	}
	return out
}

// ApplyGateOverrides returns a copy of gates with overrides keyed by gate id applied.
func ApplyGateOverrides(gates []Gate, overrides Overrides) []Gate {
	out := make([]Gate, len(gates))
	for i, gate := range gates {
		if status, ok := overrides[gate.ID]; ok && status.Valid() {
			gate.Status = status
		}
		out[i] = gate
	}
	return out
}

// CloneAreas deep copies an area map.
func CloneAreas(areas map[string]Grid) map[string]Grid {
	out := make(map[string]Grid, len(areas))
	for area, grid := range areas {
		out[area] = grid.Clone()
	}
	return out
}
