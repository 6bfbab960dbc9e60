package models

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func co2Record() *Record {
	return &Record{
		RecordID:  "3f1c0a52-7b1e-4c1e-9f3a-2d7c0b9e8a10",
		Pipeline:  "co2",
		LoggedAt:  time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		Timestamp: "2024-01-01 08:00",
		SensorID:  "CO2-1",
		Values: []Field{
			{Name: "co2_ppm", Value: 1200},
			{Name: "change_pct", Value: 12.345},
		},
		Label:   LabelElevated,
		Remark:  "Vent fan ON. Door opened. Window opened.",
		Actions: []ActionID{"ventilation-fan-on", "adjust-door"},
	}
}

func TestRecordRow(t *testing.T) {
	rec := co2Record()

	assert.Equal(t,
		[]string{"timestamp", "sensor_id", "location", "co2_ppm", "change_pct", "label", "remark", "actions"},
		rec.Header())
	assert.Equal(t,
		[]string{"2024-01-01 08:00", "CO2-1", "", "1200.00", "12.35", "Elevated", "Vent fan ON. Door opened. Window opened.", "ventilation-fan-on;adjust-door"},
		rec.Row())
	assert.Len(t, rec.Row(), len(rec.Header()))
}

func TestRecordJSON(t *testing.T) {
	data, err := co2Record().ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"label":"Elevated"`)
	assert.NotContains(t, string(data), "location", "empty location is omitted")

	decoded, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, co2Record(), decoded)

	_, err = FromJSON([]byte("{not json"))
	assert.Error(t, err)
}

func TestRecordValue(t *testing.T) {
	rec := co2Record()
	v, ok := rec.Value("co2_ppm")
	assert.True(t, ok)
	assert.Equal(t, 1200.0, v)

	_, ok = rec.Value("humidity")
	assert.False(t, ok)
}

func TestCheckFinite(t *testing.T) {
	assert.NoError(t, CheckFinite("distance", 1.5))

	err := CheckFinite("distance", math.Inf(-1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidReading))

	var ire *InvalidReadingError
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, "distance", ire.Field)
	assert.Contains(t, err.Error(), "not a finite number")
}

func TestLabelQuiet(t *testing.T) {
	assert.True(t, LabelNormal.Quiet())
	assert.True(t, LabelWithinRange.Quiet())
	assert.False(t, LabelCritical.Quiet())
	assert.False(t, LabelLow.Quiet())
}
