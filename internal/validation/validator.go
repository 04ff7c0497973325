package validation

import (
	"encoding/json"

	"github.com/sensortrack/telemetry-hub/internal/models"
)

// Rejection reasons carried into the audit log.
const (
	ReasonParseError  = "parse error"
	ReasonSchemaError = "schema error"
)

// recognizedNumericFields are the payload keys the validator knows the
// declared kind of. Anything else passes through untouched.
var recognizedNumericFields = map[string]struct{}{
	"temperature": {},
	"humidity":    {},
	"pressure":    {},
	"battery":     {},
}

// Outcome classifies one raw bus payload.
type Outcome struct {
	Accepted    bool
	Reading     *models.SensorReading
	RawPayload  string
	Reason      string
	SourceTopic string
}

// Validate parses and checks a raw payload from the given topic. It is a
// pure function: no side effects, deterministic for the same inputs.
func Validate(raw []byte, topic string) Outcome {
	rejected := func(reason string) Outcome {
		return Outcome{
			RawPayload:  string(raw),
			Reason:      reason,
			SourceTopic: topic,
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return rejected(ReasonParseError)
	}

	sensorID, ok := doc["sensor_id"].(string)
	if !ok || sensorID == "" {
		return rejected(ReasonSchemaError)
	}
	timestamp, ok := doc["timestamp"].(float64)
	if !ok {
		return rejected(ReasonSchemaError)
	}

	fields := make(map[string]models.FieldValue, len(doc))
	for key, value := range doc {
		if key == "sensor_id" || key == "timestamp" {
			continue
		}
		if _, recognized := recognizedNumericFields[key]; recognized {
			num, isNumber := value.(float64)
			if !isNumber {
				return rejected(ReasonSchemaError)
			}
			fields[key] = models.NumberField(num)
			continue
		}
		switch v := value.(type) {
		case float64:
			fields[key] = models.NumberField(v)
		case string:
			fields[key] = models.StringField(v)
		case bool:
			fields[key] = models.BoolField(v)
		case nil:
			// Null fields carry no information, skip them.
		default:
			// Nested objects and arrays are kept as their serialization.
			serialized, err := json.Marshal(v)
			if err != nil {
				return rejected(ReasonSchemaError)
			}
			fields[key] = models.ObjectField(string(serialized))
		}
	}

	return Outcome{
		Accepted: true,
		Reading: &models.SensorReading{
			SensorID:  sensorID,
			Timestamp: int64(timestamp),
			Fields:    fields,
		},
		SourceTopic: topic,
	}
}
