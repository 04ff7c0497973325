package validation

import (
	"testing"

	"github.com/sensortrack/telemetry-hub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_WellFormedReading(t *testing.T) {
	raw := []byte(`{"sensor_id":"s1","timestamp":1700000000,"temperature":21.5}`)

	outcome := Validate(raw, "sensors/s1/data")

	require.True(t, outcome.Accepted)
	require.NotNil(t, outcome.Reading)
	assert.Equal(t, "s1", outcome.Reading.SensorID)
	assert.Equal(t, int64(1700000000), outcome.Reading.Timestamp)
	assert.Equal(t, models.NumberField(21.5), outcome.Reading.Fields["temperature"])
}

func TestValidate_UnrecognizedFieldsPassThrough(t *testing.T) {
	raw := []byte(`{"sensor_id":"s1","timestamp":1700000000,"vendor":"acme","active":true,"meta":{"fw":"1.2"}}`)

	outcome := Validate(raw, "sensors/s1/data")

	require.True(t, outcome.Accepted)
	assert.Equal(t, models.StringField("acme"), outcome.Reading.Fields["vendor"])
	assert.Equal(t, models.BoolField(true), outcome.Reading.Fields["active"])
	assert.Equal(t, models.ObjectField(`{"fw":"1.2"}`), outcome.Reading.Fields["meta"])
}

func TestValidate_ParseError(t *testing.T) {
	outcome := Validate([]byte("not-json"), "sensors/s1/data")

	assert.False(t, outcome.Accepted)
	assert.Nil(t, outcome.Reading)
	assert.Equal(t, ReasonParseError, outcome.Reason)
	assert.Equal(t, "not-json", outcome.RawPayload)
	assert.Equal(t, "sensors/s1/data", outcome.SourceTopic)
}

func TestValidate_MissingTimestamp(t *testing.T) {
	outcome := Validate([]byte(`{"sensor_id":"s1"}`), "sensors/s1/data")

	assert.False(t, outcome.Accepted)
	assert.Equal(t, ReasonSchemaError, outcome.Reason)
}

func TestValidate_MissingSensorID(t *testing.T) {
	outcome := Validate([]byte(`{"timestamp":1700000000}`), "sensors/s1/data")

	assert.False(t, outcome.Accepted)
	assert.Equal(t, ReasonSchemaError, outcome.Reason)
}

func TestValidate_EmptySensorID(t *testing.T) {
	outcome := Validate([]byte(`{"sensor_id":"","timestamp":1700000000}`), "sensors/s1/data")

	assert.False(t, outcome.Accepted)
	assert.Equal(t, ReasonSchemaError, outcome.Reason)
}

func TestValidate_WrongTypeTimestamp(t *testing.T) {
	outcome := Validate([]byte(`{"sensor_id":"s1","timestamp":"soon"}`), "sensors/s1/data")

	assert.False(t, outcome.Accepted)
	assert.Equal(t, ReasonSchemaError, outcome.Reason)
}

func TestValidate_WrongTypeRecognizedField(t *testing.T) {
	outcome := Validate([]byte(`{"sensor_id":"s1","timestamp":1700000000,"temperature":"hot"}`), "sensors/s1/data")

	assert.False(t, outcome.Accepted)
	assert.Equal(t, ReasonSchemaError, outcome.Reason)
}

func TestValidate_Deterministic(t *testing.T) {
	raw := []byte(`{"sensor_id":"s1","timestamp":1700000000,"humidity":40}`)

	first := Validate(raw, "sensors/s1/data")
	second := Validate(raw, "sensors/s1/data")

	assert.Equal(t, first, second)
}

func TestValidate_NullFieldSkipped(t *testing.T) {
	outcome := Validate([]byte(`{"sensor_id":"s1","timestamp":1700000000,"note":null}`), "sensors/s1/data")

	require.True(t, outcome.Accepted)
	_, present := outcome.Reading.Fields["note"]
	assert.False(t, present)
}
