package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/sensorhub/metric"
	"github.com/c360/sensorhub/sensors"
)

// Envelope types.
const (
	EnvelopeHello               = "hello"
	EnvelopeEvents              = "events"
	EnvelopeDynamicConnected    = "dynamic_connected"
	EnvelopeDynamicDisconnected = "dynamic_disconnected"
	EnvelopeAck                 = "ack"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxInboundSize = 64 * 1024
)

// Envelope is one websocket frame in either direction.
type Envelope struct {
	Type    string               `json:"type"`
	Session string               `json:"session,omitempty"`
	Events  []sensors.Event      `json:"events,omitempty"`
	Sensors []sensors.Descriptor `json:"sensors,omitempty"`
	Handles []int32              `json:"handles,omitempty"`
	Count   int                  `json:"count,omitempty"`
}

// Acknowledger accepts wake-up acknowledgements from stream clients.
type Acknowledger interface {
	AcknowledgeWakeupEvents(n int) error
}

type streamClient struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time
	sent        atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex // gorilla/websocket allows one concurrent writer
}

// Hub fans events out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	acks     Acknowledger
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu      sync.RWMutex
	clients map[string]*streamClient
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub. acks and metrics may be nil.
func NewHub(acks Acknowledger, logger *slog.Logger, metrics *metric.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		acks:    acks,
		logger:  logger.With("component", "stream"),
		metrics: metrics,
		clients: make(map[string]*streamClient),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &streamClient{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}

	hello, _ := json.Marshal(Envelope{Type: EnvelopeHello, Session: client.id})
	if err := h.send(client, hello); err != nil {
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client.id] = client
	count := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()

	h.recordClients(count)
	h.logger.Info("Stream client connected",
		"session", client.id,
		"remote", r.RemoteAddr,
		"clients", count)

	go h.readLoop(client)
}

func (h *Hub) readLoop(c *streamClient) {
	defer h.wg.Done()
	defer h.removeClient(c)

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Stream read failed", "session", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Debug("Ignoring malformed stream message", "session", c.id, "error", err)
			continue
		}

		switch env.Type {
		case EnvelopeAck:
			h.handleAck(c, env.Count)
		default:
			h.logger.Debug("Ignoring stream message", "session", c.id, "type", env.Type)
		}
	}
}

func (h *Hub) handleAck(c *streamClient, count int) {
	if h.acks == nil {
		return
	}
	if err := h.acks.AcknowledgeWakeupEvents(count); err != nil {
		h.logger.Warn("Wake-up acknowledgement rejected",
			"session", c.id,
			"count", count,
			"error", err)
	}
}

func (h *Hub) send(c *streamClient, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

func (h *Hub) snapshot() []*streamClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*streamClient, 0, len(h.clients))
	for _, c := range h.clients {
		if !c.closed.Load() {
			clients = append(clients, c)
		}
	}
	return clients
}

func (h *Hub) broadcast(env Envelope) error {
	clients := h.snapshot()
	if len(clients) == 0 {
		return nil
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if err := h.send(c, data); err != nil {
			h.logger.Debug("Dropping stream client after write failure", "session", c.id, "error", err)
			h.removeClient(c)
		}
	}
	return nil
}

func (h *Hub) removeClient(c *streamClient) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()

		h.mu.Lock()
		delete(h.clients, c.id)
		count := len(h.clients)
		h.mu.Unlock()

		h.recordClients(count)
		h.logger.Info("Stream client disconnected",
			"session", c.id,
			"messages_sent", c.sent.Load(),
			"connected_for", time.Since(c.connectedAt).Round(time.Millisecond))
	})
}

func (h *Hub) recordClients(n int) {
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(n))
	}
}

// Name implements EventSink.
func (h *Hub) Name() string { return "websocket" }

// Deliver implements EventSink by broadcasting events to every client.
func (h *Hub) Deliver(_ context.Context, events []sensors.Event) error {
	return h.broadcast(Envelope{Type: EnvelopeEvents, Events: events})
}

// OnDynamicSensorsConnected broadcasts newly connected dynamic sensors.
func (h *Hub) OnDynamicSensorsConnected(list []sensors.Descriptor) {
	if err := h.broadcast(Envelope{Type: EnvelopeDynamicConnected, Sensors: list}); err != nil {
		h.logger.Warn("Failed to broadcast dynamic sensors", "error", err)
	}
}

// OnDynamicSensorsDisconnected broadcasts removed dynamic sensor handles.
func (h *Hub) OnDynamicSensorsDisconnected(handles []int32) {
	if err := h.broadcast(Envelope{Type: EnvelopeDynamicDisconnected, Handles: handles}); err != nil {
		h.logger.Warn("Failed to broadcast dynamic sensor removal", "error", err)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// KeepAlive pings clients until ctx is cancelled.
func (h *Hub) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pingClients()
		}
	}
}

func (h *Hub) pingClients() {
	for _, c := range h.snapshot() {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.removeClient(c)
		}
	}
}

// Close disconnects every client and waits for their readers to exit. New
// connections are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*streamClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.writeMutex.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.writeMutex.Unlock()
		h.removeClient(c)
	}
	h.wg.Wait()
}
