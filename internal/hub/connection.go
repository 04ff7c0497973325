package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sensortrack/telemetry-hub/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
)

// Connection is one active viewer. The identity decoded during the
// handshake is attached for the connection's whole lifetime and is
// destroyed with it.
type Connection struct {
	ID         string
	Identity   *models.Identity
	RemoteAddr string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConnection(identity *models.Identity, ws *websocket.Conn, remoteAddr string, sendBuffer int) *Connection {
	return &Connection{
		ID:         uuid.New().String(),
		Identity:   identity,
		RemoteAddr: remoteAddr,
		ws:         ws,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
}

// close tears the connection down. The send channel stays open so racing
// broadcasts cannot panic; deliver and the write pump watch done instead.
func (c *Connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// joinCompanyPayload accepts the company id as either a JSON number or a
// string, matching what different viewer clients send.
type joinCompanyPayload struct {
	CompanyID json.Number `json:"company_id"`
}

type joinSensorPayload struct {
	SensorID string `json:"sensor_id"`
}

// readPump consumes client events for one connection until it drops.
func (h *Hub) readPump(conn *Connection) {
	defer h.unregister(conn)

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			h.logger.Debug().
				Str("connection_id", conn.ID).
				Err(err).
				Msg("Viewer disconnected")
			return
		}
		h.handleClientEvent(conn, raw)
	}
}

// handleClientEvent dispatches one inbound event. Bad input is logged and
// ignored; it never tears the connection down.
func (h *Hub) handleClientEvent(conn *Connection, raw []byte) {
	var event clientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		h.logger.Warn().Str("connection_id", conn.ID).Msg("Discarding malformed client event")
		return
	}

	switch event.Event {
	case eventJoinCompany:
		var payload joinCompanyPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil || payload.CompanyID.String() == "" {
			h.logger.Warn().Str("connection_id", conn.ID).Msg("Discarding join_company with bad payload")
			return
		}
		h.Join(conn, CompanyRoom(payload.CompanyID.String()))
	case eventJoinSensor:
		var payload joinSensorPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil || payload.SensorID == "" {
			h.logger.Warn().Str("connection_id", conn.ID).Msg("Discarding join_sensor with bad payload")
			return
		}
		h.Join(conn, SensorRoom(payload.SensorID))
	default:
		h.logger.Debug().
			Str("connection_id", conn.ID).
			Str("event", event.Event).
			Msg("Ignoring unknown client event")
	}
}

// writePump owns all writes to the socket for one connection.
func (h *Hub) writePump(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.unregister(conn)
	}()

	for {
		select {
		case <-conn.done:
			_ = conn.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case message := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
