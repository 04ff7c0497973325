package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/sensortrack/telemetry-hub/internal/models"
	"github.com/sensortrack/telemetry-hub/pkg/jwt"
)

var (
	// ErrNotRunning is returned when a broadcast is attempted before the
	// hub has been started by the hosting process.
	ErrNotRunning = errors.New("distribution hub is not running")
	// ErrUnknownTarget is returned for broadcast selectors outside
	// {company, sensor, all}.
	ErrUnknownTarget = errors.New("unknown broadcast target")
)

// Server-emitted event names.
const (
	EventNotification = "notification"
	EventSensorUpdate = "sensor_update"
)

// Client-emitted event names.
const (
	eventJoinCompany = "join_company"
	eventJoinSensor  = "join_sensor"
)

// CompanyRoom names the broadcast group for one company.
func CompanyRoom(id string) string { return "company_" + id }

// SensorRoom names the broadcast group for one sensor.
func SensorRoom(id string) string { return "sensor_" + id }

// Auditor records security-relevant hub events.
type Auditor interface {
	Record(ctx context.Context, userID int, action models.LogAction, details map[string]any, sourceAddress string)
}

// serverEvent is the wire envelope for server-emitted events.
type serverEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// clientEvent is the wire envelope for client-emitted events.
type clientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub accepts real-time viewer connections, authenticates them during the
// websocket handshake, tracks room membership, and fans accepted readings
// and operator notifications out to matching rooms.
type Hub struct {
	verifier   jwt.VerifierInterface
	auditor    Auditor
	logger     zerolog.Logger
	sendBuffer int
	upgrader   websocket.Upgrader

	conns cmap.ConcurrentMap[string, *Connection]

	// rooms maps room name to the connections joined to it. Mutated from
	// every connection's read loop, so access goes through roomsMu.
	roomsMu sync.RWMutex
	rooms   map[string]map[string]*Connection

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub initializes a new Hub.
func NewHub(verifier jwt.VerifierInterface, auditor Auditor, sendBuffer int, logger zerolog.Logger) *Hub {
	return &Hub{
		verifier:   verifier,
		auditor:    auditor,
		logger:     logger,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: cmap.New[*Connection](),
		rooms: make(map[string]map[string]*Connection),
	}
}

// Start makes the hub accept connections.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx != nil {
		h.logger.Warn().Msg("Distribution hub is already running")
		return errors.New("distribution hub is already running")
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.logger.Info().Msg("Distribution hub started")
	return nil
}

// Stop closes every active connection and stops accepting new ones.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if h.ctx == nil {
		h.mu.Unlock()
		h.logger.Warn().Msg("Distribution hub is not running")
		return ErrNotRunning
	}
	h.cancel()
	h.ctx = nil
	h.cancel = nil
	h.mu.Unlock()

	for entry := range h.conns.IterBuffered() {
		h.unregister(entry.Val)
	}
	h.wg.Wait()

	h.logger.Info().Msg("Distribution hub stopped")
	return nil
}

func (h *Hub) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx != nil
}

// HandleConnection upgrades an incoming viewer connection. The bearer
// credential is verified before the upgrade: a connection that fails the
// handshake never reaches the active state and can join no room.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if !h.running() {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}

	token := bearerToken(r)
	if token == "" {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejected connection with invalid credential")
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	conn := newConnection(identity, ws, r.RemoteAddr, h.sendBuffer)
	if !h.register(conn) {
		conn.close()
		return
	}

	h.auditor.Record(r.Context(), identity.UserID, models.ActionViewedSensorData, map[string]any{
		"connection_id":  conn.ID,
		"source_address": conn.RemoteAddr,
	}, conn.RemoteAddr)

	h.logger.Info().
		Str("connection_id", conn.ID).
		Str("username", identity.Username).
		Msg("Viewer connected")

	go func() {
		defer h.wg.Done()
		h.writePump(conn)
	}()
	go func() {
		defer h.wg.Done()
		h.readPump(conn)
	}()
}

// register adds the connection and claims its pump goroutines while the
// hub is still running. Registration shares the lifecycle lock with Stop,
// so Stop's sweep sees either no trace of the connection or a fully
// registered one whose pumps its wait covers.
func (h *Hub) register(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx == nil {
		return false
	}
	h.conns.Set(conn.ID, conn)
	h.wg.Add(2)
	return true
}

// Join adds a connection to a room. Membership is additive and lives no
// longer than the connection. Any authenticated connection may join any
// room; the identity is accepted here so a company check has a seam.
func (h *Hub) Join(conn *Connection, room string) {
	h.roomsMu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn
	h.roomsMu.Unlock()

	h.logger.Info().
		Str("connection_id", conn.ID).
		Str("username", conn.Identity.Username).
		Str("room", room).
		Msg("Connection joined room")
}

// RoomCount returns the number of connections currently joined to a room.
func (h *Hub) RoomCount(room string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast delivers an event to every connection currently joined to the
// room. Delivery is fire-and-forget: membership is snapshotted at dispatch
// time, slow consumers are skipped, and there is no redelivery.
func (h *Hub) Broadcast(room, event string, payload any) {
	message, err := json.Marshal(serverEvent{Event: event, Data: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return
	}

	h.roomsMu.RLock()
	snapshot := make([]*Connection, 0, len(h.rooms[room]))
	for _, conn := range h.rooms[room] {
		snapshot = append(snapshot, conn)
	}
	h.roomsMu.RUnlock()

	for _, conn := range snapshot {
		h.deliver(conn, message, room)
	}
}

// broadcastAll delivers an event to every active connection.
func (h *Hub) broadcastAll(event string, payload any) {
	message, err := json.Marshal(serverEvent{Event: event, Data: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return
	}

	for entry := range h.conns.IterBuffered() {
		h.deliver(entry.Val, message, "all")
	}
}

func (h *Hub) deliver(conn *Connection, message []byte, room string) {
	select {
	case <-conn.done:
		// Connection is closing; no further events for it.
	case conn.send <- message:
	default:
		h.logger.Warn().
			Str("connection_id", conn.ID).
			Str("room", room).
			Msg("Dropping event for slow consumer")
	}
}

// NotifyReading fans one accepted reading out to the sensor's room.
func (h *Hub) NotifyReading(topic string, reading *models.SensorReading) {
	if !h.running() {
		return
	}
	h.Broadcast(SensorRoom(reading.SensorID), EventSensorUpdate, models.SensorUpdate{
		Topic: topic,
		Data:  reading.FieldMap(),
	})
}

// Publish is the manual broadcast entry point. It reports whether the hub
// was running and the broadcast was attempted.
func (h *Hub) Publish(sensorID string, readings map[string]any, companyID string) bool {
	if !h.running() {
		h.logger.Error().Str("sensor_id", sensorID).Msg("Publish attempted while hub is not running")
		return false
	}

	update := models.SensorUpdate{
		Topic: "sensors/" + sensorID + "/data",
		Data:  readings,
	}
	h.Broadcast(SensorRoom(sensorID), EventSensorUpdate, update)
	if companyID != "" {
		h.Broadcast(CompanyRoom(companyID), EventSensorUpdate, update)
	}
	return true
}

// Notify delivers an operator notification to the selected audience and
// audits the manual broadcast.
func (h *Hub) Notify(target models.TargetType, targetID, notificationType, message string, senderID int) error {
	if !h.running() {
		return ErrNotRunning
	}
	if !target.Valid() {
		return ErrUnknownTarget
	}

	notification := models.Notification{
		Type:      notificationType,
		Message:   message,
		Timestamp: time.Now().Unix(),
		SenderID:  senderID,
	}

	switch target {
	case models.TargetCompany:
		h.Broadcast(CompanyRoom(targetID), EventNotification, notification)
	case models.TargetSensor:
		h.Broadcast(SensorRoom(targetID), EventNotification, notification)
	case models.TargetAll:
		h.broadcastAll(EventNotification, notification)
	}

	h.auditor.Record(context.Background(), senderID, models.ActionSentNotification, map[string]any{
		"target_type": string(target),
		"target_id":   targetID,
		"type":        notificationType,
	}, "")

	return nil
}

// unregister drops a connection from the registry and every room it joined,
// then closes it. Safe to call more than once per connection.
func (h *Hub) unregister(conn *Connection) {
	h.conns.Remove(conn.ID)

	h.roomsMu.Lock()
	for room, members := range h.rooms {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.roomsMu.Unlock()

	conn.close()
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
