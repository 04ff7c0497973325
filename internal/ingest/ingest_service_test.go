package ingest

import (
	"context"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sensortrack/telemetry-hub/internal/models"
	"github.com/sensortrack/telemetry-hub/internal/persistence"
)

// mockToken is a mock implementation of the mqtt.Token interface.
type mockToken struct {
	mock.Mock
}

func (m *mockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockToken) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func (m *mockToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

func newOKToken() *mockToken {
	token := new(mockToken)
	token.On("Wait").Return(true)
	token.On("Error").Return(nil)
	return token
}

// mockMQTTClient is a mock implementation of the MQTTClient interface.
type mockMQTTClient struct {
	mock.Mock
	handlers map[string]MQTT.MessageHandler
}

func (m *mockMQTTClient) Connect() MQTT.Token {
	args := m.Called()
	return args.Get(0).(MQTT.Token)
}

func (m *mockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(MQTT.Token)
}

func (m *mockMQTTClient) Subscribe(topic string, qos byte, callback MQTT.MessageHandler) MQTT.Token {
	if m.handlers == nil {
		m.handlers = make(map[string]MQTT.MessageHandler)
	}
	m.handlers[topic] = callback
	args := m.Called(topic, qos, mock.Anything)
	return args.Get(0).(MQTT.Token)
}

func (m *mockMQTTClient) Unsubscribe(topics ...string) MQTT.Token {
	args := m.Called(topics)
	return args.Get(0).(MQTT.Token)
}

func (m *mockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *mockMQTTClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockMQTTClient) OnConnect(handler func()) {
	m.Called(handler)
}

// mockMessage is a mock implementation of the mqtt.Message interface.
type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 1 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) Persist(ctx context.Context, reading *models.SensorReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyReading(topic string, reading *models.SensorReading) {
	m.Called(topic, reading)
}

type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) Record(ctx context.Context, userID int, action models.LogAction, details map[string]any, sourceAddress string) {
	m.Called(ctx, userID, action, details, sourceAddress)
}

type ingestFixture struct {
	service     *IngestService
	client      *mockMQTTClient
	coordinator *mockPersister
	notifier    *mockNotifier
	auditor     *mockAuditor
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()

	client := new(mockMQTTClient)
	client.On("OnConnect", mock.Anything).Return()
	client.On("Subscribe", DataTopicPattern, byte(1), mock.Anything).Return(newOKToken())
	client.On("Subscribe", StatusTopicPattern, byte(1), mock.Anything).Return(newOKToken())
	client.On("Unsubscribe", mock.Anything).Return(newOKToken())

	coordinator := new(mockPersister)
	notifier := new(mockNotifier)
	auditor := new(mockAuditor)

	service := NewIngestService(1, 1, time.Second, client, coordinator, notifier, auditor, zerolog.Nop())
	require.NoError(t, service.Start())
	t.Cleanup(func() {
		if service.ctx != nil {
			_ = service.Stop()
		}
	})

	return &ingestFixture{
		service:     service,
		client:      client,
		coordinator: coordinator,
		notifier:    notifier,
		auditor:     auditor,
	}
}

// inject feeds one message through the subscription callback.
func (f *ingestFixture) inject(t *testing.T, topic string, payload string) {
	t.Helper()
	handler := f.client.handlers[DataTopicPattern]
	if topicMatches(StatusTopicPattern, topic) {
		handler = f.client.handlers[StatusTopicPattern]
	}
	require.NotNil(t, handler)
	handler(nil, &mockMessage{topic: topic, payload: []byte(payload)})
}

func topicMatches(pattern, topic string) bool {
	return pattern == StatusTopicPattern && statusTopicShape.MatchString(topic)
}

func TestIngest_StartSubscribesBothPatterns(t *testing.T) {
	f := newIngestFixture(t)

	f.client.AssertCalled(t, "Subscribe", DataTopicPattern, byte(1), mock.Anything)
	f.client.AssertCalled(t, "Subscribe", StatusTopicPattern, byte(1), mock.Anything)
	assert.Error(t, f.service.Start(), "second start must fail")
}

func TestIngest_AcceptedReadingIsPersistedAndDistributed(t *testing.T) {
	f := newIngestFixture(t)

	done := make(chan struct{})
	f.coordinator.On("Persist", mock.Anything, mock.MatchedBy(func(r *models.SensorReading) bool {
		return r.SensorID == "s1" && r.Timestamp == 1700000000
	})).Return(nil).Once()
	f.notifier.On("NotifyReading", "sensors/s1/data", mock.Anything).
		Run(func(mock.Arguments) { close(done) }).Return().Once()

	f.inject(t, "sensors/s1/data", `{"sensor_id":"s1","timestamp":1700000000,"temperature":21.5}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reading was not distributed")
	}
	f.coordinator.AssertExpectations(t)
	f.auditor.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_UnparseablePayloadIsQuarantined(t *testing.T) {
	f := newIngestFixture(t)

	done := make(chan struct{})
	f.auditor.On("Record", mock.Anything, models.SystemUserID, models.ActionInvalidSensorData,
		mock.MatchedBy(func(details map[string]any) bool {
			return details["reason"] == "parse error" && details["payload"] == "not-json"
		}), "").Run(func(mock.Arguments) { close(done) }).Return().Once()

	f.inject(t, "sensors/s1/data", "not-json")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rejected payload was not audited")
	}
	f.coordinator.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "NotifyReading", mock.Anything, mock.Anything)
}

func TestIngest_SchemaInvalidPayloadIsQuarantined(t *testing.T) {
	f := newIngestFixture(t)

	done := make(chan struct{})
	f.auditor.On("Record", mock.Anything, models.SystemUserID, models.ActionInvalidSensorData,
		mock.MatchedBy(func(details map[string]any) bool {
			return details["reason"] == "schema error"
		}), "").Run(func(mock.Arguments) { close(done) }).Return().Once()

	f.inject(t, "sensors/s1/data", `{"sensor_id":"s1"}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rejected payload was not audited")
	}
	f.coordinator.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
}

func TestIngest_RelationalFailureIsAuditedAndIsolated(t *testing.T) {
	f := newIngestFixture(t)

	done := make(chan struct{})
	f.coordinator.On("Persist", mock.Anything, mock.Anything).
		Return(persistence.ErrRelationalWrite).Once()
	f.auditor.On("Record", mock.Anything, models.SystemUserID, models.ActionPersistFailed,
		mock.Anything, "").Run(func(mock.Arguments) { close(done) }).Return().Once()

	f.inject(t, "sensors/s1/data", `{"sensor_id":"s1","timestamp":1700000000}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write failure was not audited")
	}
	f.notifier.AssertNotCalled(t, "NotifyReading", mock.Anything, mock.Anything)
}

func TestIngest_MalformedStatusIsQuarantined(t *testing.T) {
	f := newIngestFixture(t)

	done := make(chan struct{})
	f.auditor.On("Record", mock.Anything, models.SystemUserID, models.ActionInvalidSensorData,
		mock.MatchedBy(func(details map[string]any) bool {
			return details["topic"] == "sensors/s1/status"
		}), "").Run(func(mock.Arguments) { close(done) }).Return().Once()

	f.inject(t, "sensors/s1/status", "###")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("malformed status was not audited")
	}
	f.coordinator.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
}

func TestIngest_WellFormedStatusIsLoggedOnly(t *testing.T) {
	f := newIngestFixture(t)

	f.inject(t, "sensors/s1/status", `{"online":true}`)

	// Give the worker a moment; nothing downstream should fire.
	time.Sleep(100 * time.Millisecond)
	f.coordinator.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	f.auditor.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_ProcessingPanicDoesNotKillTheLoop(t *testing.T) {
	f := newIngestFixture(t)

	f.coordinator.On("Persist", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") }).Return(nil).Once()

	f.inject(t, "sensors/s1/data", `{"sensor_id":"s1","timestamp":1700000000}`)

	// A second, healthy message must still flow after the panic.
	done := make(chan struct{})
	f.coordinator.On("Persist", mock.Anything, mock.Anything).Return(nil).Once()
	f.notifier.On("NotifyReading", "sensors/s2/data", mock.Anything).
		Run(func(mock.Arguments) { close(done) }).Return().Once()

	f.inject(t, "sensors/s2/data", `{"sensor_id":"s2","timestamp":1700000001}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not survive the processing panic")
	}
}

func TestIngest_StopUnsubscribesAndDrains(t *testing.T) {
	f := newIngestFixture(t)

	require.NoError(t, f.service.Stop())
	f.client.AssertCalled(t, "Unsubscribe", []string{DataTopicPattern, StatusTopicPattern})
	assert.Error(t, f.service.Stop(), "second stop must fail")
}

func TestIngest_MessageAfterStopIsDropped(t *testing.T) {
	f := newIngestFixture(t)
	handler := f.client.handlers[DataTopicPattern]
	require.NotNil(t, handler)

	require.NoError(t, f.service.Stop())

	handler(nil, &mockMessage{
		topic:   "sensors/s1/data",
		payload: []byte(`{"sensor_id":"s1","timestamp":1700000000,"temperature":21.5}`),
	})

	f.coordinator.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
}

func TestIngest_MessagesRacingStopNeverPanic(t *testing.T) {
	f := newIngestFixture(t)
	handler := f.client.handlers[DataTopicPattern]
	require.NotNil(t, handler)

	f.coordinator.On("Persist", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.notifier.On("NotifyReading", mock.Anything, mock.Anything).Return().Maybe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			handler(nil, &mockMessage{
				topic:   "sensors/s1/data",
				payload: []byte(`{"sensor_id":"s1","timestamp":1700000000,"temperature":21.5}`),
			})
		}
	}()

	require.NoError(t, f.service.Stop())
	<-done
}
