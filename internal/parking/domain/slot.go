package parking

import (
	"fmt"
	"regexp"
	"strings"
)

// SlotStatus is the occupancy of a parking slot or loading gate.
type SlotStatus string

const (
	StatusAvailable SlotStatus = "available"
	StatusOccupied  SlotStatus = "occupied"
	StatusReserved  SlotStatus = "reserved"
)

// Valid reports whether s is a known status.
func (s SlotStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusReserved:
		return true
	default:
		return false
	}
}

// Color is the display color cached per overridden slot.
type Color string

const (
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
)

// ColorFor maps a status to its display color.
func ColorFor(s SlotStatus) Color {
	switch s {
	case StatusOccupied:
		return ColorRed
	case StatusReserved:
		return ColorYellow
	default:
		return ColorGreen
	}
}

// SlotKey is the override key of a slot.
func SlotKey(area, label string) string {
	return area + "-" + label
}

var registrationPattern = regexp.MustCompile(`^[A-Z]{2}\d{2}-\d{4}$`)

// ValidateRegistration trims and checks a vehicle registration such as
// MH12-1000. Lower-case input is rejected rather than normalized.
func ValidateRegistration(raw string) (string, error) {
	reg := strings.TrimSpace(raw)
	if !registrationPattern.MatchString(reg) {
		return "", &ValidationError{Field: "registration", Value: raw, Reason: ErrInvalidRegistration}
	}
	return reg, nil
}

// Cell is one slot in an area grid.
type Cell struct {
	Label  string     `json:"label"`
	Status SlotStatus `json:"status"`
}

// Grid is an area laid out in rows.
type Grid [][]Cell

// Clone returns a deep copy.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]Cell(nil), row...)
	}
	return out
}

// Find returns the cell with label.
func (g Grid) Find(label string) (Cell, bool) {
	for _, row := range g {
		for _, cell := range row {
			if cell.Label == label {
				return cell, true
			}
		}
	}
	return Cell{}, false
}

// Count returns the number of cells per status.
func (g Grid) Count() map[SlotStatus]int {
	out := make(map[SlotStatus]int, 3)
	for _, row := range g {
		for _, cell := range row {
			out[cell.Status]++
		}
	}
	return out
}

// NewGrid lays out rows*cols cells labelled S1..Sn, all available.
func NewGrid(rows, cols int) Grid {
	grid := make(Grid, rows)
	n := 1
	for r := 0; r < rows; r++ {
		grid[r] = make([]Cell, cols)
		for c := 0; c < cols; c++ {
			grid[r][c] = Cell{Label: fmt.Sprintf("S%d", n), Status: StatusAvailable}
			n++
		}
	}
	return grid
}

// Gate is a loading gate.
type Gate struct {
	ID     string     `json:"id"`
	Status SlotStatus `json:"status"`
}

// Assignment records which slot a vehicle holds.
type Assignment struct {
	Area  string `json:"area"`
	Label string `json:"label"`
}

// Key returns the slot key of the assignment.
func (a Assignment) Key() string {
	return SlotKey(a.Area, a.Label)
}
