package models

import (
	"time"

	"gorm.io/datatypes"
)

// SensorReadingRecord is the durable relational form of an accepted reading.
type SensorReadingRecord struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	SensorID  string         `json:"sensor_id" gorm:"column:sensor_id;index"`
	Timestamp time.Time      `json:"timestamp" gorm:"column:timestamp;index"`
	Fields    datatypes.JSON `json:"fields" gorm:"column:fields"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName keeps the original table name.
func (SensorReadingRecord) TableName() string { return "sensor_readings" }
