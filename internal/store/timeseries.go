package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/sensortrack/telemetry-hub/internal/models"
)

// Measurement under which every accepted reading is written.
const readingMeasurement = "sensor_reading"

var windowPattern = regexp.MustCompile(`^\d+(ms|s|m|h|d|w)$`)

// InfluxConfig carries the time-series store connection settings.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// TimeSeriesStore is the InfluxDB sink for accepted readings and the
// query surface for range and aggregation reads.
type TimeSeriesStore struct {
	client   influxdb2.Client
	writeAPI influxapi.WriteAPIBlocking
	queryAPI influxapi.QueryAPI
	bucket   string
	logger   zerolog.Logger
}

// NewTimeSeriesStore creates the InfluxDB client and its write/query APIs.
func NewTimeSeriesStore(cfg InfluxConfig, logger zerolog.Logger) *TimeSeriesStore {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &TimeSeriesStore{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		logger:   logger,
	}
}

// WriteReading appends one point, tagged by sensor id and timestamped from
// the reading itself rather than ingestion time.
func (ts *TimeSeriesStore) WriteReading(ctx context.Context, reading *models.SensorReading) error {
	point := influxdb2.NewPointWithMeasurement(readingMeasurement).
		AddTag("sensor_id", reading.SensorID).
		SetTime(time.Unix(reading.Timestamp, 0).UTC())

	for key, value := range reading.Fields {
		switch value.Kind {
		case models.FieldNumber:
			point.AddField(key, value.Number)
		case models.FieldBool:
			point.AddField(key, value.Bool)
		default:
			point.AddField(key, value.String)
		}
	}

	if err := ts.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write point for %s: %w", reading.SensorID, err)
	}
	return nil
}

// QueryRange returns raw points for one sensor between start and end.
func (ts *TimeSeriesStore) QueryRange(ctx context.Context, sensorID string, start, end time.Time) ([]map[string]any, error) {
	flux := buildRangeQuery(ts.bucket, sensorID, start, end)
	return ts.collect(ctx, flux)
}

// QueryAggregate returns the windowed mean of one field for one sensor.
func (ts *TimeSeriesStore) QueryAggregate(ctx context.Context, sensorID, field, window string, start, end time.Time) ([]map[string]any, error) {
	if !windowPattern.MatchString(window) {
		return nil, fmt.Errorf("invalid aggregation window %q", window)
	}
	flux := buildAggregateQuery(ts.bucket, sensorID, field, window, start, end)
	return ts.collect(ctx, flux)
}

func (ts *TimeSeriesStore) collect(ctx context.Context, flux string) ([]map[string]any, error) {
	result, err := ts.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("time-series query failed: %w", err)
	}

	rows := []map[string]any{}
	for result.Next() {
		rows = append(rows, result.Record().Values())
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("time-series result iteration failed: %w", result.Err())
	}
	return rows, nil
}

// Close shuts down the underlying HTTP client.
func (ts *TimeSeriesStore) Close() {
	ts.client.Close()
}

func buildRangeQuery(bucket, sensorID string, start, end time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r.sensor_id == %q)`,
		bucket,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		readingMeasurement,
		sensorID,
	)
}

func buildAggregateQuery(bucket, sensorID, field, window string, start, end time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r.sensor_id == %q)
  |> filter(fn: (r) => r._field == %q)
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)`,
		bucket,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		readingMeasurement,
		sensorID,
		field,
		window,
	)
}
