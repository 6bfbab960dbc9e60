package calibration

import (
	"math"
	"sort"

	"github.com/boyangli/homesense/models"
)

// Surface is a dense calibration grid for one sensor, indexed by ambient
// temperature (rows) and distance (columns). A Surface is read-only once
// built and may be shared between goroutines.
type Surface struct {
	sensorID string
	ambient  []float64
	distance []float64
	values   [][]float64
}

// NewSurface validates the axes and fills missing (NaN) cells. Gaps are
// filled linearly by position along the ambient axis first, then along the
// distance axis, treating neighbouring rows and columns as equally spaced
// whatever their axis values; a value after the last known cell of a line is held, a gap before
// the first known cell is left for the other pass. Any cell still missing
// after both passes is an error.
func NewSurface(sensorID string, ambient, distance []float64, values [][]float64) (*Surface, error) {
	if err := checkAxis(sensorID, "ambient", ambient); err != nil {
		return nil, err
	}
	if err := checkAxis(sensorID, "distance", distance); err != nil {
		return nil, err
	}
	if len(values) != len(ambient) {
		return nil, malformed(sensorID, "%d data rows for %d ambient values", len(values), len(ambient))
	}

	grid := make([][]float64, len(values))
	for i, row := range values {
		if len(row) != len(distance) {
			return nil, malformed(sensorID, "row %v has %d cells, want %d", ambient[i], len(row), len(distance))
		}
		grid[i] = append([]float64(nil), row...)
	}

	// ambient pass, one distance column at a time
	column := make([]float64, len(ambient))
	for j := range distance {
		for i := range ambient {
			column[i] = grid[i][j]
		}
		fillLine(column)
		for i := range ambient {
			grid[i][j] = column[i]
		}
	}
	// distance pass
	for i := range ambient {
		fillLine(grid[i])
	}

	for i, row := range grid {
		for j, v := range row {
			if math.IsNaN(v) {
				return nil, malformed(sensorID, "cell (ambient %v, distance %v) missing after fill", ambient[i], distance[j])
			}
			if math.IsInf(v, 0) {
				return nil, malformed(sensorID, "cell (ambient %v, distance %v) is infinite", ambient[i], distance[j])
			}
		}
	}

	return &Surface{
		sensorID: sensorID,
		ambient:  append([]float64(nil), ambient...),
		distance: append([]float64(nil), distance...),
		values:   grid,
	}, nil
}

func checkAxis(sensorID, name string, axis []float64) error {
	if len(axis) < 2 {
		return malformed(sensorID, "%s axis has %d values, need at least 2", name, len(axis))
	}
	for i, v := range axis {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return malformed(sensorID, "%s axis value %v is not finite", name, v)
		}
		if i > 0 && v <= axis[i-1] {
			return malformed(sensorID, "%s axis not strictly increasing at %v", name, v)
		}
	}
	return nil
}

// fillLine replaces NaN entries of ys in place using only the values that
// were known before the call. Interpolation is by index.
func fillLine(ys []float64) {
	var known []int
	for i, y := range ys {
		if !math.IsNaN(y) {
			known = append(known, i)
		}
	}
	if len(known) == 0 || len(known) == len(ys) {
		return
	}

	k := 0
	for i := range ys {
		if !math.IsNaN(ys[i]) {
			continue
		}
		for k < len(known) && known[k] < i {
			k++
		}
		switch {
		case k == 0:
			// leading gap
		case k == len(known):
			ys[i] = ys[known[k-1]]
		default:
			lo, hi := known[k-1], known[k]
			t := float64(i-lo) / float64(hi-lo)
			ys[i] = ys[lo] + t*(ys[hi]-ys[lo])
		}
	}
}

// SensorID returns the sensor the surface belongs to
func (s *Surface) SensorID() string { return s.sensorID }

// AmbientAxis returns a copy of the ambient temperature axis
func (s *Surface) AmbientAxis() []float64 { return append([]float64(nil), s.ambient...) }

// DistanceAxis returns a copy of the distance axis
func (s *Surface) DistanceAxis() []float64 { return append([]float64(nil), s.distance...) }

// At returns the stored grid value at ambient row i, distance column j
func (s *Surface) At(i, j int) float64 { return s.values[i][j] }

// SameAxes reports whether both surfaces share identical axes
func (s *Surface) SameAxes(o *Surface) bool {
	return equalAxis(s.ambient, o.ambient) && equalAxis(s.distance, o.distance)
}

func equalAxis(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Evaluate interpolates the surface at (ambient, distance). Queries outside
// the grid are clamped to its edge; the surface is never extrapolated.
func (s *Surface) Evaluate(ambient, distance float64) (float64, error) {
	if err := models.CheckFinite("ambient_temperature", ambient); err != nil {
		return 0, err
	}
	if err := models.CheckFinite("distance", distance); err != nil {
		return 0, err
	}

	i, y, y1, y2 := bracket(s.ambient, ambient)
	j, x, x1, x2 := bracket(s.distance, distance)

	q11 := s.values[i][j]
	q12 := s.values[i+1][j]
	q21 := s.values[i][j+1]
	q22 := s.values[i+1][j+1]

	dx := x2 - x1
	dy := y2 - y1

	switch {
	case dx == 0 && dy == 0:
		return q11, nil
	case dx == 0:
		return (q11*(y2-y) + q12*(y-y1)) / dy, nil
	case dy == 0:
		return (q11*(x2-x) + q21*(x-x1)) / dx, nil
	}

	fy1 := ((x2-x)/dx)*q11 + ((x-x1)/dx)*q21
	fy2 := ((x2-x)/dx)*q12 + ((x-x1)/dx)*q22
	return ((y2-y)/dy)*fy1 + ((y-y1)/dy)*fy2, nil
}

// bracket finds the interval [axis[idx], axis[idx+1]] holding v, clamping
// both the interval and v to the axis range.
func bracket(axis []float64, v float64) (idx int, clamped, lo, hi float64) {
	idx = sort.SearchFloat64s(axis, v) - 1
	if idx < 0 {
		idx = 0
	} else if idx > len(axis)-2 {
		idx = len(axis) - 2
	}
	clamped = math.Min(math.Max(v, axis[0]), axis[len(axis)-1])
	return idx, clamped, axis[idx], axis[idx+1]
}
