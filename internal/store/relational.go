package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sensortrack/telemetry-hub/internal/models"
)

// ErrNoReadings reports that a sensor has no stored readings.
var ErrNoReadings = errors.New("no readings for sensor")

// DatabaseConfig carries the relational store connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RelationalStore is the Postgres-backed durable store: accepted readings
// and the append-only audit log. This core only appends; nothing here
// updates or deletes existing rows.
type RelationalStore struct {
	db *gorm.DB
}

// ConnectRelational establishes the pooled database connection.
func ConnectRelational(cfg DatabaseConfig) (*RelationalStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &RelationalStore{db: db}, nil
}

// AutoMigrate creates the tables this core appends to.
func (s *RelationalStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.SensorReadingRecord{}, &models.UserLog{})
}

// SaveReading appends one accepted reading.
func (s *RelationalStore) SaveReading(ctx context.Context, reading *models.SensorReading) error {
	fields, err := json.Marshal(reading.FieldMap())
	if err != nil {
		return fmt.Errorf("failed to encode reading fields: %w", err)
	}

	record := models.SensorReadingRecord{
		SensorID:  reading.SensorID,
		Timestamp: time.Unix(reading.Timestamp, 0).UTC(),
		Fields:    fields,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save reading for %s: %w", reading.SensorID, err)
	}
	return nil
}

// AppendLog appends one audit entry.
func (s *RelationalStore) AppendLog(ctx context.Context, entry *models.UserLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// LatestReading returns the most recent stored reading for a sensor.
func (s *RelationalStore) LatestReading(ctx context.Context, sensorID string) (*models.SensorReadingRecord, error) {
	var record models.SensorReadingRecord
	err := s.db.WithContext(ctx).
		Where("sensor_id = ?", sensorID).
		Order("timestamp DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoReadings
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Close releases the underlying connection pool.
func (s *RelationalStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
