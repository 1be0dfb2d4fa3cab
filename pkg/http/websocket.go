package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"coachsync-server/pkg/coach"
	"coachsync-server/pkg/metrics"
)

// SnapshotMessage is a dashboard-facing aggregate update.
type SnapshotMessage struct {
	SessionID string           `json:"sessionId"`
	Aggregate *coach.Aggregate `json:"aggregate"`

	// DerivedRatio is user speaking time over others', display only.
	DerivedRatio float64   `json:"derivedRatio"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewSnapshotMessage wraps an aggregate for the dashboard.
func NewSnapshotMessage(sessionID string, agg *coach.Aggregate) *SnapshotMessage {
	return &SnapshotMessage{
		SessionID:    sessionID,
		Aggregate:    agg,
		DerivedRatio: agg.DerivedRatio(),
		Timestamp:    time.Now(),
	}
}

// wsClient represents a connected dashboard WebSocket client.
type wsClient struct {
	hub       *SnapshotHub
	conn      *websocket.Conn
	send      chan *SnapshotMessage
	logger    *logrus.Logger
	sessionID string // empty = all sessions
}

// SnapshotHub manages WebSocket clients and broadcasts aggregate snapshots.
// It implements coach.Subscriber.
type SnapshotHub struct {
	logger             *logrus.Logger
	clients            map[*wsClient]bool
	sessionSubscribers map[string]map[*wsClient]bool
	broadcast          chan *SnapshotMessage
	register           chan *wsClient
	unregister         chan *wsClient
}

// WebSocketUpgrader configures the WebSocket connection.
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from arbitrary origins (QR link flow).
		return true
	},
}

// NewSnapshotHub creates a snapshot hub.
func NewSnapshotHub(logger *logrus.Logger) *SnapshotHub {
	return &SnapshotHub{
		logger:             logger,
		clients:            make(map[*wsClient]bool),
		sessionSubscribers: make(map[string]map[*wsClient]bool),
		broadcast:          make(chan *SnapshotMessage, 64),
		register:           make(chan *wsClient),
		unregister:         make(chan *wsClient),
	}
}

// OnAggregate implements coach.Subscriber. Snapshots are dropped rather
// than blocking the coordinator when the hub is saturated.
func (h *SnapshotHub) OnAggregate(sessionID string, snapshot *coach.Aggregate) {
	msg := NewSnapshotMessage(sessionID, snapshot)
	select {
	case h.broadcast <- msg:
		metrics.SnapshotsPublished.WithLabelValues("websocket").Inc()
	default:
		h.logger.WithField("session_id", sessionID).Warn("Snapshot hub saturated, dropping update")
	}
}

// Run starts the hub loop until the context is done.
func (h *SnapshotHub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket snapshot hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket snapshot hub")
			for client := range h.clients {
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			if client.sessionID != "" {
				if _, exists := h.sessionSubscribers[client.sessionID]; !exists {
					h.sessionSubscribers[client.sessionID] = make(map[*wsClient]bool)
				}
				h.sessionSubscribers[client.sessionID][client] = true
			}
			metrics.WebSocketClients.Inc()
			h.logger.WithField("session_id", client.sessionID).Info("Dashboard client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if client.sessionID != "" {
					if subscribers, exists := h.sessionSubscribers[client.sessionID]; exists {
						delete(subscribers, client)
						if len(subscribers) == 0 {
							delete(h.sessionSubscribers, client.sessionID)
						}
					}
				}
				metrics.WebSocketClients.Dec()
				h.logger.Info("Dashboard client disconnected")
			}

		case message := <-h.broadcast:
			targets := h.sessionSubscribers[message.SessionID]
			for client := range h.clients {
				if client.sessionID != "" {
					if _, subscribed := targets[client]; !subscribed {
						continue
					}
				}
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// WebSocketHandler upgrades the connection and streams snapshots for the
// requested session (or all sessions when session_id is absent).
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan *SnapshotMessage, 16),
		logger:    s.logger,
		sessionID: sessionID,
	}
	s.hub.register <- client

	// Seed the dashboard with the current state so it does not wait for
	// the next event.
	if sessionID != "" {
		if agg, readErr := s.coordinator.Read(r.Context(), sessionID); readErr == nil {
			select {
			case client.send <- NewSnapshotMessage(sessionID, agg):
			default:
			}
		}
	}

	go client.writePump()
	go client.readPump()
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.WithError(err).Debug("WebSocket write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
