package models

import (
	"time"

	"gorm.io/datatypes"
)

// LogAction enumerates the auditable actions recorded in user_logs.
type LogAction string

const (
	ActionViewedLogs        LogAction = "viewed_logs"
	ActionViewedSensorData  LogAction = "viewed_sensor_data"
	ActionExportedData      LogAction = "exported_data"
	ActionAddedSensor       LogAction = "added_sensor"
	ActionUpdatedSensor     LogAction = "updated_sensor"
	ActionLogin             LogAction = "login"
	ActionLogout            LogAction = "logout"
	ActionInvalidSensorData LogAction = "invalid_sensor_data"
	ActionPersistFailed     LogAction = "sensor_persist_failed"
	ActionSentNotification  LogAction = "sent_notification"
)

// SystemUserID is the reserved actor id for audit entries produced by the
// ingestion path rather than a logged-in user. user_logs carries no foreign
// key, so the sentinel never needs a matching users row.
const SystemUserID = 0

// UserLog is one append-only audit entry.
type UserLog struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	UserID    int            `json:"user_id" gorm:"column:user_id;index"`
	Action    string         `json:"action" gorm:"column:action;index"`
	Details   datatypes.JSON `json:"details" gorm:"column:details"`
	IPAddress string         `json:"ip_address" gorm:"column:ip_address"`
	Timestamp time.Time      `json:"timestamp" gorm:"column:timestamp"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName keeps the original table name.
func (UserLog) TableName() string { return "user_logs" }
