package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sensortrack/telemetry-hub/internal/models"
	"github.com/sensortrack/telemetry-hub/internal/utils"
	"github.com/sensortrack/telemetry-hub/internal/validation"
	"github.com/sensortrack/telemetry-hub/pkg/mqtt"
)

// Wildcard subscriptions covering every sensor's publications.
const (
	DataTopicPattern   = "sensors/+/data"
	StatusTopicPattern = "sensors/+/status"
)

var (
	dataTopicShape   = regexp.MustCompile(`^sensors/[\w-]+/data$`)
	statusTopicShape = regexp.MustCompile(`^sensors/[\w-]+/status$`)
)

// Persister writes one accepted reading to the durable stores.
type Persister interface {
	Persist(ctx context.Context, reading *models.SensorReading) error
}

// Notifier fans one accepted reading out to live viewers.
type Notifier interface {
	NotifyReading(topic string, reading *models.SensorReading)
}

// Auditor quarantines rejected payloads and records write failures.
type Auditor interface {
	Record(ctx context.Context, userID int, action models.LogAction, details map[string]any, sourceAddress string)
}

// IngestService owns the broker subscriptions and drives each inbound
// message through validation, persistence, and distribution. Message
// processing runs on a worker pool so one bad or slow message can never
// take the consumer loop down with it.
type IngestService struct {
	qos          int
	workers      int
	drainTimeout time.Duration
	mqttClient   mqtt.MQTTClient
	coordinator  Persister
	notifier     Notifier
	auditor      Auditor
	logger       zerolog.Logger

	pool   *utils.WorkerPool
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewIngestService initializes a new IngestService.
func NewIngestService(
	qos int,
	workers int,
	drainTimeout time.Duration,
	mqttClient mqtt.MQTTClient,
	coordinator Persister,
	notifier Notifier,
	auditor Auditor,
	logger zerolog.Logger,
) *IngestService {
	return &IngestService{
		qos:          qos,
		workers:      workers,
		drainTimeout: drainTimeout,
		mqttClient:   mqttClient,
		coordinator:  coordinator,
		notifier:     notifier,
		auditor:      auditor,
		logger:       logger,
	}
}

// Start issues the wildcard subscriptions and registers the reconnect hook
// that reissues them, since broker-side subscription state is not assumed
// to survive a reconnect.
func (s *IngestService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.logger.Warn().Msg("Ingest service is already running")
		return errors.New("ingest service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool = utils.NewWorkerPool(s.workers)

	s.mqttClient.OnConnect(func() {
		s.subscribe()
	})
	s.subscribe()

	s.logger.Info().
		Str("data_topic", DataTopicPattern).
		Str("status_topic", StatusTopicPattern).
		Msg("Ingest service started")
	return nil
}

// Stop unsubscribes so no new messages arrive, then lets in-flight message
// processing drain, bounded by the drain timeout.
func (s *IngestService) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		s.logger.Warn().Msg("Ingest service is not running")
		return errors.New("ingest service is not running")
	}
	pool := s.pool
	cancel := s.cancel
	s.pool = nil
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.mqttClient.OnConnect(nil)
	token := s.mqttClient.Unsubscribe(DataTopicPattern, StatusTopicPattern)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to unsubscribe cleanly")
	}

	if err := pool.Drain(s.drainTimeout); err != nil {
		s.logger.Warn().Err(err).Msg("In-flight message processing did not drain in time")
	}
	cancel()

	s.logger.Info().Msg("Ingest service stopped")
	return nil
}

// subscribe (re)issues both wildcard subscriptions. Subscription failure is
// logged but does not tear down the connection; the next reconnect retries.
func (s *IngestService) subscribe() {
	for _, pattern := range []string{DataTopicPattern, StatusTopicPattern} {
		token := s.mqttClient.Subscribe(pattern, byte(s.qos), s.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", pattern).Msg("Subscription failed")
			continue
		}
		s.logger.Info().Str("topic", pattern).Msg("Subscribed")
	}
}

// handleMessage hands one inbound message to the pool. Payload and topic
// are copied out first; paho reuses its buffers after the handler returns.
func (s *IngestService) handleMessage(_ MQTT.Client, msg MQTT.Message) {
	topic := msg.Topic()
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	s.mu.Lock()
	pool := s.pool
	ctx := s.ctx
	s.mu.Unlock()
	if pool == nil {
		return
	}

	if !pool.Submit(func() {
		s.process(ctx, topic, payload)
	}) {
		s.logger.Debug().Str("topic", topic).Msg("Dropping message during shutdown")
	}
}

// process dispatches one message by topic shape. Any panic is contained
// here so a single message can never terminate the subscription loop.
func (s *IngestService) process(ctx context.Context, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("topic", topic).
				Interface("panic", r).
				Msg("Recovered from message processing panic")
		}
	}()

	switch {
	case dataTopicShape.MatchString(topic):
		s.processData(ctx, topic, payload)
	case statusTopicShape.MatchString(topic):
		s.processStatus(ctx, topic, payload)
	default:
		s.logger.Debug().Str("topic", topic).Msg("Ignoring message on unexpected topic")
	}
}

func (s *IngestService) processData(ctx context.Context, topic string, payload []byte) {
	outcome := validation.Validate(payload, topic)
	if !outcome.Accepted {
		s.logger.Warn().
			Str("topic", topic).
			Str("reason", outcome.Reason).
			Msg("Quarantined rejected payload")
		s.auditor.Record(ctx, models.SystemUserID, models.ActionInvalidSensorData, map[string]any{
			"topic":   topic,
			"reason":  outcome.Reason,
			"payload": outcome.RawPayload,
		}, "")
		return
	}

	if err := s.coordinator.Persist(ctx, outcome.Reading); err != nil {
		s.logger.Error().Err(err).
			Str("sensor_id", outcome.Reading.SensorID).
			Msg("Failed to persist reading")
		s.auditor.Record(ctx, models.SystemUserID, models.ActionPersistFailed, map[string]any{
			"topic":     topic,
			"sensor_id": outcome.Reading.SensorID,
			"error":     err.Error(),
		}, "")
		return
	}

	s.notifier.NotifyReading(topic, outcome.Reading)
}

// processStatus parses status publications best-effort. Malformed status
// payloads are quarantined rather than crashing the handler.
func (s *IngestService) processStatus(ctx context.Context, topic string, payload []byte) {
	var status map[string]any
	if err := json.Unmarshal(payload, &status); err != nil {
		s.auditor.Record(ctx, models.SystemUserID, models.ActionInvalidSensorData, map[string]any{
			"topic":   topic,
			"reason":  validation.ReasonParseError,
			"payload": string(payload),
		}, "")
		return
	}
	s.logger.Info().
		Str("topic", topic).
		Interface("status", status).
		Msg("Sensor status update")
}
