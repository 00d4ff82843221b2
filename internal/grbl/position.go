package grbl

import (
	"strconv"
	"strings"
)

// Position is a machine coordinate with up to 6 axes. Machines with fewer
// axes just leave the extra fields at zero.
type Position struct {
	X float64
	Y float64
	Z float64
	A float64
	B float64
	C float64
}

// ParsePosition parses a comma-separated coordinate list and returns the
// position and the number of fields parsed. Fewer than 6 fields is fine
// (for example "10.000,20.000,0.000" from a 3-axis machine).
func ParsePosition(coords string) (Position, int, error) {
	parts := strings.Split(coords, ",")

	var p Position

	// assign to fields of p in order from X to C
	axis := []*float64{&p.X, &p.Y, &p.Z, &p.A, &p.B, &p.C}
	for i, part := range parts {
		if i >= len(axis) {
			return p, len(axis), nil
		}

		var err error
		*axis[i], err = strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Position{}, 0, err
		}
	}

	return p, len(parts), nil
}

func (p Position) Add(q Position) Position {
	return Position{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z, A: p.A + q.A, B: p.B + q.B, C: p.C + q.C}
}

func (p Position) Sub(q Position) Position {
	return Position{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z, A: p.A - q.A, B: p.B - q.B, C: p.C - q.C}
}
