package models

// TargetType selects the audience of a manual broadcast.
type TargetType string

const (
	TargetCompany TargetType = "company"
	TargetSensor  TargetType = "sensor"
	TargetAll     TargetType = "all"
)

// Valid reports whether the selector is one of the recognized kinds.
func (t TargetType) Valid() bool {
	return t == TargetCompany || t == TargetSensor || t == TargetAll
}

// Notification is the operator-triggered event delivered to viewers.
type Notification struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	SenderID  int    `json:"senderId"`
}

// SensorUpdate is the per-reading event delivered to viewers.
type SensorUpdate struct {
	Topic string         `json:"topic"`
	Data  map[string]any `json:"data"`
}
