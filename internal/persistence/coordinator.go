package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sensortrack/telemetry-hub/internal/models"
)

// ErrRelationalWrite marks a failed relational append. It is fatal for the
// message being processed but must not take down the consumer loop.
var ErrRelationalWrite = errors.New("relational write failed")

// ReadingWriter is the relational half of the dual write.
type ReadingWriter interface {
	SaveReading(ctx context.Context, reading *models.SensorReading) error
}

// PointWriter is the time-series half of the dual write.
type PointWriter interface {
	WriteReading(ctx context.Context, reading *models.SensorReading) error
}

// Coordinator writes each accepted reading to both stores. The two paths
// are independent: the relational write must succeed, the time-series
// write is best-effort.
type Coordinator struct {
	relational ReadingWriter
	timeseries PointWriter
	logger     zerolog.Logger
}

// NewCoordinator initializes a new Coordinator.
func NewCoordinator(relational ReadingWriter, timeseries PointWriter, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		relational: relational,
		timeseries: timeseries,
		logger:     logger,
	}
}

// Persist performs the dual write: exactly one relational append, at most
// one time-series append. No cross-store transaction.
func (c *Coordinator) Persist(ctx context.Context, reading *models.SensorReading) error {
	if err := c.relational.SaveReading(ctx, reading); err != nil {
		return fmt.Errorf("%w: %v", ErrRelationalWrite, err)
	}

	if err := c.timeseries.WriteReading(ctx, reading); err != nil {
		c.logger.Warn().Err(err).
			Str("sensor_id", reading.SensorID).
			Msg("Time-series write failed, relational copy is durable")
	}

	return nil
}
