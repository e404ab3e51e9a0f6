package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard is served from anywhere on the private network
	CheckOrigin: func(*http.Request) bool { return true },
}

// HistoryEvent is pushed to dashboard clients for every consent change.
type HistoryEvent struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"` // consent.optout | consent.optin
	Entry core.HistoryEntry `json:"entry"`
}

// EventHub fans history entries out to connected websocket clients. A slow
// client loses events rather than stalling the store.
type EventHub struct {
	log     *zap.Logger
	mu      sync.RWMutex
	clients map[*eventClient]struct{}
}

type eventClient struct {
	id   string
	conn *websocket.Conn
	send chan HistoryEvent
}

func NewEventHub(log *zap.Logger) *EventHub {
	return &EventHub{log: log, clients: make(map[*eventClient]struct{})}
}

func (h *EventHub) Publish(e core.HistoryEntry) {
	ev := HistoryEvent{ID: uuid.NewString(), Type: "consent." + string(e.Action), Entry: e}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Warn("event dropped for slow client", zap.String("client_id", c.id))
		}
	}
}

func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) register(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &eventClient{id: uuid.NewString(), conn: conn, send: make(chan HistoryEvent, 32)}
	h.register(c)
	h.log.Debug("events client connected", zap.String("client_id", c.id))

	go c.writePump()
	c.readPump(h)
}

// readPump only services control frames; clients never send data.
func (c *eventClient) readPump(h *EventHub) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
