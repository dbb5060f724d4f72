package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipefeed/internal/monitoring"
	"github.com/GriffinCanCode/pipefeed/internal/record"
	"github.com/GriffinCanCode/pipefeed/internal/shared/id"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// DefaultQueueSize is the number of records buffered per subscriber.
	DefaultQueueSize = 256
)

// ErrHubClosed is returned by Write after Close.
var ErrHubClosed = errors.New("hub closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only feed
	},
}

type subscriber struct {
	id   id.SubscriberID
	send chan []byte
}

// Hub fans records out to websocket subscribers. It satisfies sink.Sink so
// it can sit next to the file sink. A subscriber whose queue is full is
// disconnected rather than allowed to stall the stream.
type Hub struct {
	queueSize int
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	mu     sync.RWMutex
	subs   map[id.SubscriberID]*subscriber
	closed bool
}

// NewHub creates a hub. queueSize <= 0 selects DefaultQueueSize.
func NewHub(queueSize int, metrics *monitoring.Metrics, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		queueSize: queueSize,
		metrics:   metrics,
		logger:    logger,
		subs:      make(map[id.SubscriberID]*subscriber),
	}
}

// Write broadcasts rec as a JSON text message.
func (h *Hub) Write(rec record.Record) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}

	var slow []*subscriber
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	for _, sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("Dropping slow subscriber", zap.String("subscriber", sub.id.String()))
		h.unregister(sub)
	}
	return nil
}

// Close disconnects every subscriber. Later connections are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for subID, sub := range h.subs {
		delete(h.subs, subID)
		close(sub.send)
		h.metrics.DecWSSubscribers()
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) register() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{
		id:   id.NewSubscriberID(),
		send: make(chan []byte, h.queueSize),
	}
	h.subs[sub.id] = sub
	h.metrics.IncWSSubscribers()
	return sub, true
}

// unregister removes sub and closes its queue. Safe to call repeatedly.
func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.send)
	h.metrics.DecWSSubscribers()
}

// ServeWS upgrades the request and streams records until the client goes
// away or is dropped.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sub, ok := h.register()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.Debug("Subscriber connected", zap.String("subscriber", sub.id.String()))

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer h.unregister(sub)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Subscriber read error", zap.String("subscriber", sub.id.String()), zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer on conn.
func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
