package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boyangli/homesense/models"
)

// Format selects which columns a reading file must carry
type Format int

const (
	// FormatTemperature is a body temperature log: distance, ambient and
	// measured temperature per row
	FormatTemperature Format = iota
	// FormatAmbient is a room temperature log; the ambient temperature is
	// also the measured value
	FormatAmbient
	// FormatCO2 is a CO2 log: sensor, timestamp and ppm per row
	FormatCO2
)

func (f Format) String() string {
	switch f {
	case FormatTemperature:
		return "temperature"
	case FormatAmbient:
		return "ambient"
	case FormatCO2:
		return "co2"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat maps a pipeline name to the reading format it consumes
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "body", "calibrated", "temperature":
		return FormatTemperature, nil
	case "ambient":
		return FormatAmbient, nil
	case "co2":
		return FormatCO2, nil
	}
	return 0, fmt.Errorf("unknown reading format %q", s)
}

// Logical columns and the header names accepted for each
const (
	colSensor    = "sensor"
	colTimestamp = "timestamp"
	colLocation  = "location"
	colDistance  = "distance"
	colAmbient   = "ambient"
	colMeasured  = "measured"
	colCO2       = "co2"
)

var columnAliases = map[string][]string{
	colSensor:    {"sensor_id", "sensor id", "sensorid", "sensor"},
	colTimestamp: {"timestamp", "time", "date time", "date / time", "datetime"},
	colLocation:  {"location", "room"},
	colDistance:  {"distance_m", "distance"},
	colAmbient:   {"ambient_temp_c", "ambienttemp", "ambient temperature", "temp"},
	colMeasured:  {"measured_body_temp_c", "measuredtemp", "temperature"},
	colCO2:       {"co2", "co2_ppm"},
}

var requiredColumns = map[Format][]string{
	FormatTemperature: {colDistance, colAmbient, colMeasured},
	FormatAmbient:     {colAmbient},
	FormatCO2:         {colCO2},
}

// Row is one data row of a reading file: either a reading or the reason it
// was skipped
type Row struct {
	Line    int
	Reading *models.Reading
	Err     error
}

// CSVReader streams readings from a CSV file
type CSVReader struct {
	filePath string
	format   Format
	sensorID string
	target   string
	log      *slog.Logger
}

// Option configures a CSVReader
type Option func(*CSVReader)

// WithSensorID sets the sensor id used when the file has no sensor column
func WithSensorID(id string) Option {
	return func(cr *CSVReader) { cr.sensorID = id }
}

// WithTarget keeps only rows of the given sensor
func WithTarget(id string) Option {
	return func(cr *CSVReader) { cr.target = strings.TrimSpace(id) }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(cr *CSVReader) { cr.log = logger }
}

// NewCSVReader creates a new CSV reader
func NewCSVReader(filePath string, format Format, opts ...Option) *CSVReader {
	cr := &CSVReader{filePath: filePath, format: format, log: slog.Default()}
	for _, opt := range opts {
		opt(cr)
	}
	return cr
}

// StreamToChannel reads the file and sends one Row per data row. Bad rows
// are sent with their error and never stop the stream. It returns an error
// only when the file itself cannot be used, and does not close out.
func (cr *CSVReader) StreamToChannel(ctx context.Context, out chan<- Row) error {
	file, err := os.Open(cr.filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	cr.log.Debug("📄 CSV header", "columns", header)

	colMap, err := cr.columns(header)
	if err != nil {
		return err
	}

	lineCount := 0
	startTime := time.Now()

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		var row Row
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				row = Row{Line: perr.Line, Err: fmt.Errorf("malformed CSV row: %w", perr.Err)}
			} else {
				return fmt.Errorf("failed to read CSV: %w", err)
			}
		} else {
			line, _ := reader.FieldPos(0)
			reading, err := cr.parseRow(record, colMap)
			if reading != nil && cr.target != "" && reading.SensorID != cr.target {
				continue
			}
			row = Row{Line: line, Reading: reading, Err: err}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
		lineCount++

		if lineCount%10000 == 0 {
			elapsed := time.Since(startTime)
			cr.log.Info("📊 Streamed rows", "rows", lineCount, "rate", float64(lineCount)/elapsed.Seconds())
		}
	}

	cr.log.Info("✅ CSV streaming complete", "file", cr.filePath, "rows", lineCount, "elapsed", time.Since(startTime))
	return nil
}

// ReadAll reads the entire file (use for smaller files)
func (cr *CSVReader) ReadAll() ([]Row, error) {
	out := make(chan Row, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- cr.StreamToChannel(context.Background(), out)
		close(out)
	}()

	var rows []Row
	for row := range out {
		rows = append(rows, row)
	}
	return rows, <-errc
}

// columns maps logical columns to header positions and checks the format's
// required columns are present
func (cr *CSVReader) columns(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	colMap := make(map[string]int)
	for col, aliases := range columnAliases {
		for _, alias := range aliases {
			if i, ok := index[alias]; ok {
				colMap[col] = i
				break
			}
		}
	}

	var missing []string
	for _, col := range requiredColumns[cr.format] {
		if _, ok := colMap[col]; !ok {
			missing = append(missing, columnAliases[col][0])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s file %s is missing columns: %s", cr.format, cr.filePath, strings.Join(missing, ", "))
	}
	return colMap, nil
}

// parseRow converts a CSV row to a Reading
func (cr *CSVReader) parseRow(row []string, colMap map[string]int) (*models.Reading, error) {
	for _, col := range requiredColumns[cr.format] {
		if colMap[col] >= len(row) {
			return nil, &models.InvalidReadingError{
				Field:  col,
				Reason: fmt.Sprintf("row has %d columns, need at least %d", len(row), colMap[col]+1),
			}
		}
	}

	reading := &models.Reading{
		SensorID:  cr.text(row, colMap, colSensor),
		Timestamp: cr.text(row, colMap, colTimestamp),
		Location:  cr.text(row, colMap, colLocation),
	}
	if reading.SensorID == "" {
		reading.SensorID = cr.sensorID
	}

	var err error
	switch cr.format {
	case FormatTemperature:
		if reading.Distance, err = number(row, colMap, colDistance); err != nil {
			return reading, err
		}
		if reading.AmbientTemperature, err = number(row, colMap, colAmbient); err != nil {
			return reading, err
		}
		if reading.MeasuredValue, err = number(row, colMap, colMeasured); err != nil {
			return reading, err
		}
	case FormatAmbient:
		if reading.AmbientTemperature, err = number(row, colMap, colAmbient); err != nil {
			return reading, err
		}
		reading.MeasuredValue = reading.AmbientTemperature
	case FormatCO2:
		if reading.MeasuredValue, err = number(row, colMap, colCO2); err != nil {
			return reading, err
		}
	}
	return reading, nil
}

func (cr *CSVReader) text(row []string, colMap map[string]int, col string) string {
	if i, ok := colMap[col]; ok && i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func number(row []string, colMap map[string]int, col string) (float64, error) {
	raw := strings.TrimSpace(row[colMap[col]])
	if raw == "" {
		return 0, &models.InvalidReadingError{Field: col, Reason: "missing value"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &models.InvalidReadingError{Field: col, Value: raw, Reason: "not a number"}
	}
	if err := models.CheckFinite(col, v); err != nil {
		return 0, err
	}
	return v, nil
}
