package models

import "encoding/json"

// FieldKind identifies the wire type of a sensor payload field.
type FieldKind int

const (
	FieldNumber FieldKind = iota
	FieldString
	FieldBool
	// FieldObject is a nested document carried as its JSON serialization.
	FieldObject
)

// FieldValue is one loosely-typed sensor payload field.
type FieldValue struct {
	Kind   FieldKind
	Number float64
	String string
	Bool   bool
}

// NumberField wraps a numeric payload value.
func NumberField(v float64) FieldValue { return FieldValue{Kind: FieldNumber, Number: v} }

// StringField wraps a string payload value.
func StringField(v string) FieldValue { return FieldValue{Kind: FieldString, String: v} }

// BoolField wraps a boolean payload value.
func BoolField(v bool) FieldValue { return FieldValue{Kind: FieldBool, Bool: v} }

// ObjectField wraps a nested document, already serialized to JSON.
func ObjectField(serialized string) FieldValue {
	return FieldValue{Kind: FieldObject, String: serialized}
}

// Value returns the field as a plain Go value suitable for JSON encoding.
func (f FieldValue) Value() any {
	switch f.Kind {
	case FieldNumber:
		return f.Number
	case FieldBool:
		return f.Bool
	default:
		return f.String
	}
}

// SensorReading is one validated telemetry sample. SensorID and Timestamp
// are always present; Fields holds every other payload key.
type SensorReading struct {
	SensorID  string
	Timestamp int64
	Fields    map[string]FieldValue
}

// FieldMap rebuilds the full payload mapping, including sensor_id and
// timestamp, for broadcast and relational storage.
func (r *SensorReading) FieldMap() map[string]any {
	m := make(map[string]any, len(r.Fields)+2)
	m["sensor_id"] = r.SensorID
	m["timestamp"] = r.Timestamp
	for k, v := range r.Fields {
		m[k] = v.Value()
	}
	return m
}

// MarshalJSON encodes the reading in its wire form.
func (r *SensorReading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.FieldMap())
}
