package calibration

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultSensorPatterns mark a row as a sensor section header when its id
// column contains one of them.
var DefaultSensorPatterns = []string{"MLX", "RS-T10"}

// Table holds the surfaces parsed from one reference table file. Sections
// that failed to parse are kept in Failures and have no surface.
type Table struct {
	surfaces map[string]*Surface
	failures map[string]error
	order    []string
}

// Surface returns the calibration surface for a sensor
func (t *Table) Surface(sensorID string) (*Surface, bool) {
	s, ok := t.surfaces[sensorID]
	return s, ok
}

// SensorIDs lists sensors with a usable surface, in file order
func (t *Table) SensorIDs() []string {
	ids := make([]string, 0, len(t.surfaces))
	for _, id := range t.order {
		if _, ok := t.surfaces[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Failures returns the per-sensor construction errors
func (t *Table) Failures() map[string]error {
	out := make(map[string]error, len(t.failures))
	for id, err := range t.failures {
		out[id] = err
	}
	return out
}

// section collects one sensor's rows before the surface is built
type section struct {
	sensorID  string
	distances []float64
	ambient   []float64
	rows      [][]float64
	err       error
}

// LoadTable parses a header-delimited reference table. A row whose second
// column matches a sensor pattern opens a section; the following row holds
// the distance axis ("1m", "1.5m", ...); every later row with a numeric
// first column is a data row keyed by ambient temperature. Rows before the
// first header and rows with a non-numeric first column are ignored.
//
// A broken section only removes that sensor. An error is returned when the
// input has no sensor section at all.
func LoadTable(rows [][]string, patterns ...string) (*Table, error) {
	if len(patterns) == 0 {
		patterns = DefaultSensorPatterns
	}

	t := &Table{
		surfaces: make(map[string]*Surface),
		failures: make(map[string]error),
	}

	var cur *section
	expectingDistances := false

	for _, row := range rows {
		if id, ok := headerID(row, patterns); ok {
			t.finish(cur)
			cur = &section{sensorID: id}
			expectingDistances = true
			continue
		}
		if cur == nil {
			continue
		}
		if expectingDistances {
			expectingDistances = false
			cur.distances, cur.err = parseDistances(cur.sensorID, row)
			continue
		}
		if cur.err != nil || len(row) == 0 {
			continue
		}

		ambient, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil {
			continue
		}
		values, err := parseDataCells(cur.sensorID, ambient, row[1:], len(cur.distances))
		if err != nil {
			cur.err = err
			continue
		}
		cur.ambient = append(cur.ambient, ambient)
		cur.rows = append(cur.rows, values)
	}
	t.finish(cur)

	if len(t.order) == 0 {
		return nil, malformed("", "no sensor sections found")
	}
	return t, nil
}

// LoadTableFile reads a reference table from a CSV file
func LoadTableFile(path string, patterns ...string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference table: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read reference table %s: %w", path, err)
	}
	return LoadTable(rows, patterns...)
}

func (t *Table) finish(s *section) {
	if s == nil {
		return
	}
	if _, seen := t.surfaces[s.sensorID]; seen {
		delete(t.surfaces, s.sensorID)
		t.failures[s.sensorID] = malformed(s.sensorID, "duplicate section")
		return
	}
	if _, seen := t.failures[s.sensorID]; seen {
		t.failures[s.sensorID] = malformed(s.sensorID, "duplicate section")
		return
	}
	t.order = append(t.order, s.sensorID)

	surface, err := s.build()
	if err != nil {
		t.failures[s.sensorID] = err
		return
	}
	t.surfaces[s.sensorID] = surface
}

func (s *section) build() (*Surface, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.rows) == 0 {
		return nil, malformed(s.sensorID, "no data rows")
	}

	// data rows are not required to be sorted in the file
	idx := make([]int, len(s.ambient))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.ambient[idx[a]] < s.ambient[idx[b]] })

	ambient := make([]float64, len(idx))
	values := make([][]float64, len(idx))
	for k, i := range idx {
		ambient[k] = s.ambient[i]
		values[k] = s.rows[i]
		if k > 0 && ambient[k] == ambient[k-1] {
			return nil, malformed(s.sensorID, "duplicate ambient value %v", ambient[k])
		}
	}
	return NewSurface(s.sensorID, ambient, s.distances, values)
}

func headerID(row []string, patterns []string) (string, bool) {
	if len(row) < 2 {
		return "", false
	}
	id := strings.TrimSpace(row[1])
	if id == "" {
		return "", false
	}
	for _, p := range patterns {
		if strings.Contains(id, p) {
			return id, true
		}
	}
	return "", false
}

func parseDistances(sensorID string, row []string) ([]float64, error) {
	var out []float64
	if len(row) < 2 {
		return nil, malformed(sensorID, "missing distance axis row")
	}
	for _, cell := range row[1:] {
		cell = strings.TrimSuffix(strings.TrimSpace(cell), "m")
		if cell == "" {
			continue
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, malformed(sensorID, "distance axis cell %q is not numeric", cell)
		}
		out = append(out, d)
	}
	if len(out) < 2 {
		return nil, malformed(sensorID, "distance axis has %d values, need at least 2", len(out))
	}
	return out, nil
}

// parseDataCells converts one data row. Blank or non-numeric cells become
// NaN for the fill passes. Trailing blank cells past the axis width are
// padding from a wider file and are dropped.
func parseDataCells(sensorID string, ambient float64, cells []string, width int) ([]float64, error) {
	for len(cells) > width && strings.TrimSpace(cells[len(cells)-1]) == "" {
		cells = cells[:len(cells)-1]
	}
	if len(cells) != width {
		return nil, malformed(sensorID, "data row %v has %d cells, distance axis has %d", ambient, len(cells), width)
	}
	values := make([]float64, width)
	for i, cell := range cells {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			v = math.NaN()
		}
		values[i] = v
	}
	return values, nil
}
