package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boyangli/homesense/action"
	"github.com/boyangli/homesense/calibration"
	"github.com/boyangli/homesense/config"
	"github.com/boyangli/homesense/ingestion"
	"github.com/boyangli/homesense/journal"
	"github.com/boyangli/homesense/metrics"
	"github.com/boyangli/homesense/models"
)

const meanTable = `Sensor,MLX-P,,
AmbientTemp,1m,2m
25,36.5,37.0
26,36.6,37.1
`

const spreadTable = `Sensor,MLX-P,,
AmbientTemp,1m,2m
25,0.1,0.1
26,0.1,0.1
`

func rows(content string) [][]string {
	var out [][]string
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		out = append(out, strings.Split(line, ","))
	}
	return out
}

func testReference(t *testing.T) *calibration.Reference {
	t.Helper()
	mean, err := calibration.LoadTable(rows(meanTable))
	require.NoError(t, err)
	spread, err := calibration.LoadTable(rows(spreadTable))
	require.NoError(t, err)
	return calibration.NewReference(mean, spread)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedWindowConfig() *config.PipelineConfig {
	cfg := config.DefaultPipelineConfig()
	cfg.ReferenceWindow = config.WindowConfig{Mode: config.WindowFixed, Constant: 2}
	return cfg
}

func mlxReading(measured float64) models.Reading {
	return models.Reading{
		SensorID:           "MLX-P",
		Location:           "Bedroom",
		Timestamp:          "08:00",
		Distance:           1.5,
		AmbientTemperature: 25.0,
		MeasuredValue:      measured,
	}
}

func TestBodyPipelineEndToEnd(t *testing.T) {
	ev, err := New(NameBody, fixedWindowConfig(), testReference(t))
	require.NoError(t, err)

	eval, err := ev.Evaluate(mlxReading(36.8))
	require.NoError(t, err)
	require.NotNil(t, eval.Calibration)
	assert.InDelta(t, 36.75, eval.Calibration.ExpectedValue, 1e-9)
	assert.InDelta(t, 0.05, eval.Calibration.Difference, 1e-9)
	assert.InDelta(t, 0.1, eval.Calibration.ExpectedSpread, 1e-9)
	assert.True(t, eval.Calibration.WithinRange)
	assert.Equal(t, models.LabelWithinRange, eval.Outcome.Label)
	assert.Empty(t, eval.Outcome.Actions)

	eval, err = ev.Evaluate(mlxReading(39.5))
	require.NoError(t, err)
	assert.Equal(t, models.LabelOutOfRange, eval.Outcome.Label)
	assert.Equal(t, action.CalibratedPlan().For(models.LabelOutOfRange), eval.Outcome.Actions)
}

func TestBodyPipelineSpreadWindow(t *testing.T) {
	ev, err := New(NameBody, config.DefaultPipelineConfig(), testReference(t))
	require.NoError(t, err)

	eval, err := ev.Evaluate(mlxReading(36.8))
	require.NoError(t, err)
	assert.Equal(t, models.LabelWithinRange, eval.Outcome.Label)

	eval, err = ev.Evaluate(mlxReading(37.0))
	require.NoError(t, err)
	assert.Equal(t, models.LabelOutOfRange, eval.Outcome.Label, "0.25 above expected is outside a 0.1 spread")
}

func TestBodyPipelineUnknownSensor(t *testing.T) {
	ev, err := New(NameBody, fixedWindowConfig(), testReference(t))
	require.NoError(t, err)

	r := mlxReading(36.8)
	r.SensorID = "MLX-Q"
	_, err = ev.Evaluate(r)
	assert.ErrorIs(t, err, models.ErrInvalidReading)
}

func TestCalibratedBandPipeline(t *testing.T) {
	ev, err := New(NameCalibrated, config.DefaultPipelineConfig(), testReference(t))
	require.NoError(t, err)

	eval, err := ev.Evaluate(mlxReading(36.8))
	require.NoError(t, err)
	assert.Equal(t, models.LabelNormal, eval.Outcome.Label)
	assert.Equal(t, "Normal Body Temperature", eval.Outcome.Remark)
	calculated := eval.Values[1]
	assert.Equal(t, "calculated_temp_c", calculated.Name)
	assert.InDelta(t, 36.75, calculated.Value, 1e-9)

	_, err = ev.Evaluate(mlxReading(40.0))
	require.ErrorIs(t, err, models.ErrInvalidReading)
	assert.Contains(t, err.Error(), "correction exceeds")
}

func TestAmbientPipeline(t *testing.T) {
	ev, err := New(NameAmbient, config.DefaultPipelineConfig(), nil)
	require.NoError(t, err)

	eval, err := ev.Evaluate(models.Reading{SensorID: "AMB-1", AmbientTemperature: 16.5, MeasuredValue: 16.5})
	require.NoError(t, err)
	assert.Equal(t, models.LabelLow, eval.Outcome.Label)
	assert.Equal(t, action.TemperaturePlan().For(models.LabelLow), eval.Outcome.Actions)
	assert.Equal(t, []models.Field{{Name: "ambient_temp_c", Value: 16.5}}, eval.Values)
}

func TestCO2PipelineTracksEachSensor(t *testing.T) {
	ev, err := New(NameCO2, config.DefaultPipelineConfig(), nil)
	require.NoError(t, err)
	co2 := ev.(*CO2Pipeline)

	var labels []models.Label
	for _, ppm := range []float64{400, 400, 400, 1200} {
		eval, err := co2.Evaluate(models.Reading{SensorID: "CO2-1", MeasuredValue: ppm})
		require.NoError(t, err)
		labels = append(labels, eval.Outcome.Label)
	}
	// the fourth reading sits exactly on twice its baseline of 600
	assert.Equal(t, []models.Label{models.LabelNormal, models.LabelNormal, models.LabelNormal, models.LabelElevated}, labels)

	baseline, ok := co2.Baseline("CO2-1")
	require.True(t, ok)
	assert.InDelta(t, 600.0, baseline, 1e-9)

	eval, err := co2.Evaluate(models.Reading{SensorID: "CO2-2", MeasuredValue: 500})
	require.NoError(t, err)
	assert.Equal(t, models.LabelNormal, eval.Outcome.Label)
	change, _ := (&models.Record{Values: eval.Values}).Value("change_pct")
	assert.Zero(t, change, "first reading of a sensor has no change")

	eval, err = co2.Evaluate(models.Reading{SensorID: "CO2-1", MeasuredValue: 3000})
	require.NoError(t, err)
	assert.Equal(t, models.LabelCritical, eval.Outcome.Label)
	rec := &models.Record{Values: eval.Values}
	change, _ = rec.Value("change_pct")
	rate, _ := rec.Value("rate_ppm_per_min")
	assert.InDelta(t, 150.0, change, 1e-9)
	assert.InDelta(t, 180.0, rate, 1e-9)
}

func TestCO2PipelineRejectsBadValue(t *testing.T) {
	ev, err := New(NameCO2, config.DefaultPipelineConfig(), nil)
	require.NoError(t, err)

	_, err = ev.Evaluate(models.Reading{SensorID: "CO2-1", MeasuredValue: math.NaN()})
	require.ErrorIs(t, err, models.ErrInvalidReading)
	_, ok := ev.(*CO2Pipeline).Baseline("CO2-1")
	assert.False(t, ok, "a rejected reading leaves no state behind")
}

func TestCO2PipelineRejectsNonPositive(t *testing.T) {
	ev, err := New(NameCO2, config.DefaultPipelineConfig(), nil)
	require.NoError(t, err)
	co2 := ev.(*CO2Pipeline)

	for _, ppm := range []float64{0, -5} {
		_, err := co2.Evaluate(models.Reading{SensorID: "CO2-1", MeasuredValue: ppm})
		require.ErrorIs(t, err, models.ErrInvalidReading, "ppm %v", ppm)
		var ire *models.InvalidReadingError
		require.ErrorAs(t, err, &ire)
		assert.Equal(t, "co2", ire.Field)
	}
	_, ok := co2.Baseline("CO2-1")
	assert.False(t, ok, "rejected readings leave no state behind")

	eval, err := co2.Evaluate(models.Reading{SensorID: "CO2-1", MeasuredValue: 420})
	require.NoError(t, err)
	assert.Equal(t, models.LabelNormal, eval.Outcome.Label)
	assert.Empty(t, eval.Outcome.Actions)
}

func TestNewRejects(t *testing.T) {
	_, err := New("humidity", config.DefaultPipelineConfig(), nil)
	assert.Error(t, err)

	_, err = New(NameBody, config.DefaultPipelineConfig(), nil)
	assert.ErrorIs(t, err, ErrReferenceRequired)

	cfg := config.DefaultPipelineConfig()
	cfg.Plans = map[string]map[string][]string{NameCO2: {"Critical": {"launch-rocket"}}}
	_, err = New(NameCO2, cfg, nil)
	assert.Error(t, err)
}

func TestNewAppliesPlanOverride(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.Plans = map[string]map[string][]string{NameAmbient: {"High": {"open-door"}}}
	ev, err := New(NameAmbient, cfg, nil)
	require.NoError(t, err)

	eval, err := ev.Evaluate(models.Reading{AmbientTemperature: 30})
	require.NoError(t, err)
	assert.Equal(t, []models.ActionID{action.OpenDoor}, eval.Outcome.Actions)
}

// flakySink logs every action but fails heating control
type flakySink struct{ *action.LogSink }

func (flakySink) ControlHeating(context.Context, action.Target) error {
	return errors.New("heater offline")
}

func feed(rs ...ingestion.Row) <-chan ingestion.Row {
	ch := make(chan ingestion.Row, len(rs))
	for _, r := range rs {
		ch <- r
	}
	close(ch)
	return ch
}

func readingRow(line int, r models.Reading) ingestion.Row {
	return ingestion.Row{Line: line, Reading: &r}
}

func TestSessionRun(t *testing.T) {
	ev, err := New(NameBody, fixedWindowConfig(), testReference(t))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	dispatcher := action.NewDispatcher(flakySink{action.NewLogSink(discard())}, action.NoPause{}, discard(), collector)
	var mem journal.Memory
	session := NewSession(ev, dispatcher, &mem, collector, discard())

	unknown := mlxReading(36.8)
	unknown.SensorID = "RS-T10"

	report, err := session.Run(context.Background(), feed(
		readingRow(2, mlxReading(36.8)),
		ingestion.Row{Line: 3, Err: &models.InvalidReadingError{Field: "distance", Value: "x", Reason: "not a number"}},
		readingRow(4, mlxReading(39.5)),
		readingRow(5, unknown),
	))
	require.NoError(t, err)

	assert.Equal(t, session.ID, report.SessionID)
	assert.Equal(t, NameBody, report.Pipeline)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Labels[models.LabelWithinRange])
	assert.Equal(t, 1, report.Labels[models.LabelOutOfRange])
	assert.Equal(t, 2, report.ActionsInvoked)
	assert.Equal(t, 1, report.ActionFailures)
	require.Len(t, report.Skips, 2)
	assert.Equal(t, 3, report.Skips[0].Line)
	assert.Equal(t, Skip{Line: 5, SensorID: "RS-T10", Reason: report.Skips[1].Reason}, report.Skips[1])
	assert.Contains(t, report.Skips[1].Reason, "no calibration surface")

	records := mem.Records()
	require.Len(t, records, 2, "one record per classified reading")
	assert.Equal(t, models.LabelWithinRange, records[0].Label)
	assert.Empty(t, records[0].Actions)
	assert.NotEmpty(t, records[0].RecordID)
	assert.Equal(t, NameBody, records[0].Pipeline)

	assert.Equal(t, models.LabelOutOfRange, records[1].Label)
	assert.Equal(t, []models.ActionID{action.SendCommunicationAlert, action.ActivateRobot}, records[1].Actions)
	assert.Equal(t, "Alert GP, adjust HVAC, dispatch robot", records[1].Remark)
	expected, ok := records[1].Value("expected_temp_c")
	require.True(t, ok)
	assert.InDelta(t, 36.75, expected, 1e-9)

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "homesense_readings_classified_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(reg, "homesense_readings_skipped_total"))
}

type brokenJournal struct{}

func (brokenJournal) Append(models.Record) error { return errors.New("disk full") }

func TestSessionStopsOnJournalFailure(t *testing.T) {
	ev, err := New(NameAmbient, config.DefaultPipelineConfig(), nil)
	require.NoError(t, err)
	dispatcher := action.NewDispatcher(action.NewLogSink(discard()), nil, discard(), nil)
	session := NewSession(ev, dispatcher, brokenJournal{}, nil, discard())

	report, err := session.Run(context.Background(), feed(
		readingRow(2, models.Reading{AmbientTemperature: 21}),
		readingRow(3, models.Reading{AmbientTemperature: 22}),
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "line 2")
	assert.Zero(t, report.Processed)
}

func TestSessionStopsOnCancel(t *testing.T) {
	ev, err := New(NameAmbient, config.DefaultPipelineConfig(), nil)
	require.NoError(t, err)
	dispatcher := action.NewDispatcher(action.NewLogSink(discard()), nil, discard(), nil)
	var mem journal.Memory
	session := NewSession(ev, dispatcher, &mem, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = session.Run(ctx, make(chan ingestion.Row))
	assert.ErrorIs(t, err, context.Canceled)
}
