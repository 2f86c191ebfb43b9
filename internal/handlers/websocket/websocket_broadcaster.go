package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/useCases"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/metrics"
)

const writeWait = 5 * time.Second

// Alert is the message pushed to every connected client for a flagged
// transaction.
type Alert struct {
	Type  string               `json:"type"`
	Event *model.DecisionEvent `json:"event"`
}

// WebSocketBroadcaster pushes fraud alerts to connected clients.
type WebSocketBroadcaster struct {
	clients  map[*websocket.Conn]struct{}
	mu       sync.Mutex
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewWebSocketBroadcaster(log *slog.Logger) *WebSocketBroadcaster {
	return &WebSocketBroadcaster{
		clients:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:      log.With(sl.Component("websocket")),
	}
}

var _ useCases.Broadcaster = (*WebSocketBroadcaster)(nil)

func (b *WebSocketBroadcaster) BroadcastAlert(event *model.DecisionEvent) {
	msg, err := json.Marshal(Alert{Type: "fraud_alert", Event: event})
	if err != nil {
		b.log.Error("failed to marshal alert", sl.Err(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			b.log.Debug("dropping websocket client", sl.Err(err))
			_ = c.Close()
			delete(b.clients, c)
		}
	}
	metrics.ActiveWebSocketClients.Set(float64(len(b.clients)))
}

// Clients returns the number of connected clients.
func (b *WebSocketBroadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Handler returns an http.HandlerFunc to accept websocket connections.
func (b *WebSocketBroadcaster) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.log.Warn("websocket upgrade failed", sl.Err(err))
			return
		}
		b.mu.Lock()
		b.clients[conn] = struct{}{}
		metrics.ActiveWebSocketClients.Set(float64(len(b.clients)))
		b.mu.Unlock()

		// Reads only detect disconnects; clients never send anything useful.
		go func() {
			defer func() {
				b.mu.Lock()
				delete(b.clients, conn)
				metrics.ActiveWebSocketClients.Set(float64(len(b.clients)))
				b.mu.Unlock()
				_ = conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
