package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/opsdash-api/pkg/middleware/cors"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

// RefetchMessage is written to websocket clients for every change signal.
type RefetchMessage struct {
	Type     string `json:"type"`
	Category string `json:"category"`
}

// Hub bridges the bus to websocket clients. Each connection subscribes to the
// categories it asked for and receives a refetch message per notification.
type Hub struct {
	bus          Bus
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	clients atomic.Int64
}

// NewHub constructs a hub publishing through bus. Browser upgrades must come
// from allowedOrigins, using the same rules as the CORS middleware.
func NewHub(bus Bus, pingInterval time.Duration, allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		bus:          bus,
		logger:       logger,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cors.NewOrigins(allowedOrigins)),
		},
	}
}

// checkOrigin accepts requests without an Origin header, which come from
// non-browser clients.
func checkOrigin(origins cors.Origins) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origins.Allowed(origin)
	}
}

// Clients reports the number of open connections.
func (h *Hub) Clients() int64 {
	return h.clients.Load()
}

// Serve upgrades the request and streams refetch messages for categories
// until the client disconnects. An empty categories slice means everything.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, categories []string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		categories = []string{AllCategories}
	}

	h.clients.Add(1)
	defer h.clients.Add(-1)

	send := make(chan RefetchMessage, sendBufferSize)
	unsubscribers := make([]func(), 0, len(categories))
	for _, category := range categories {
		unsubscribers = append(unsubscribers, h.bus.Subscribe(category, func(_ context.Context, changed string) {
			select {
			case send <- RefetchMessage{Type: "refetch", Category: changed}:
			default:
				h.logger.Warn("websocket client lagging, dropping notification", zap.String("category", changed))
			}
		}))
	}
	defer func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
	}()

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, send, closed)
	return nil
}

// readPump drains client frames so control messages are processed and a
// disconnect is noticed.
func (h *Hub) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, send <-chan RefetchMessage, closed <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case msg := <-send:
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
