package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gateway/internal/auth"
	"github.com/nerrad567/gray-logic-gateway/internal/commissioning"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/subsystem"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound queue. A client that falls
	// this far behind loses events rather than stalling broadcasts.
	wsSendBufferSize = 256
)

// Event channels.
const (
	ChannelCommissioningProgress = "commissioning.progress"
	ChannelSubsystemReadiness    = "subsystem.readiness"
	ChannelDeviceAnnounced       = "device.announced"
)

var channelPermissions = map[string]auth.Permission{
	ChannelCommissioningProgress: auth.PermCommissionRead,
	ChannelSubsystemReadiness:    auth.PermStatusRead,
	ChannelDeviceAnnounced:       auth.PermDeviceRead,
}

// ReadinessEvent is sent on ChannelSubsystemReadiness. A client subscribing
// to the channel first receives the latest event, if any, so it starts from
// the current state.
type ReadinessEvent struct {
	Subsystem string              `json:"subsystem"`
	Ready     bool                `json:"ready"`
	Summary   subsystem.Readiness `json:"summary"`
}

// WSMessage is the envelope of every WebSocket message in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound WSMessage with the payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub tracks WebSocket clients and fans gateway events out to them.
type Hub struct {
	logger  *logging.Logger
	timings wsTimings

	mu            sync.RWMutex
	clients       map[*WSClient]struct{}
	lastReadiness *ReadinessEvent
}

// wsTimings are the keepalive settings derived from config.WebSocketConfig.
type wsTimings struct {
	readLimit    int64
	pingInterval time.Duration
	pongWait     time.Duration
}

// readDeadline is how long the server waits for any frame before giving up.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.pingInterval + t.pongWait)
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subject string
	role    auth.Role

	mu            sync.Mutex
	subscriptions map[string]struct{}
	closed        bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub using the keepalive settings in cfg.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		timings: wsTimings{
			readLimit:    int64(cfg.MaxMessageSize),
			pingInterval: time.Duration(cfg.PingInterval) * time.Second,
			pongWait:     time.Duration(cfg.PongTimeout) * time.Second,
		},
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		c.conn.Close()
	}
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload as an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeMessage(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.deliver(channel, data)
	}
}

// BroadcastProgress has the shape of commissioning.ProgressFunc.
func (h *Hub) BroadcastProgress(p commissioning.Progress) {
	h.Broadcast(ChannelCommissioningProgress, p)
}

// BroadcastReadiness sends a readiness transition and remembers it for
// clients that subscribe later.
func (h *Hub) BroadcastReadiness(name string, ready bool, summary subsystem.Readiness) {
	ev := ReadinessEvent{Subsystem: name, Ready: ready, Summary: summary}
	h.mu.Lock()
	h.lastReadiness = &ev
	h.mu.Unlock()
	h.Broadcast(ChannelSubsystemReadiness, ev)
}

func (h *Hub) readinessSnapshot() (ReadinessEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastReadiness == nil {
		return ReadinessEvent{}, false
	}
	return *h.lastReadiness, true
}

// handleWebSocket upgrades the request. With auth enabled the single-use
// ticket from POST /auth/ws-ticket is required in the query string.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	entry := ticketEntry{subject: "anonymous", role: auth.RoleAdmin}
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if entry, ok = s.tickets.redeem(ticket); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subject:       entry.subject,
		role:          entry.role,
		subscriptions: make(map[string]struct{}),
	}
	s.hub.register(c)
	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	t := c.hub.timings
	c.conn.SetReadLimit(t.readLimit)
	c.conn.SetReadDeadline(t.readDeadline()) //nolint:errcheck // Read error surfaces below
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		c.conn.SetReadDeadline(t.readDeadline()) //nolint:errcheck // Read error surfaces above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	t := c.hub.timings
	ticker := time.NewTicker(t.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(t.pongWait)) //nolint:errcheck // Write error checked below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Connection is closing
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(t.pongWait)) //nolint:errcheck // Write error checked below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.subscribe(req)
	case WSTypeUnsubscribe:
		c.unsubscribe(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

func decodeChannels(raw json.RawMessage) ([]string, bool) {
	var p WSSubscribePayload
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return nil, false
	}
	return p.Channels, true
}

// subscribe applies all channels or none. The readiness snapshot, when one
// exists, follows the response.
func (c *WSClient) subscribe(req wsRequest) {
	channels, ok := decodeChannels(req.Payload)
	if !ok {
		c.reply(req.ID, WSTypeError, errorPayload("invalid subscribe payload"))
		return
	}
	for _, ch := range channels {
		perm, known := channelPermissions[ch]
		if !known {
			c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+ch))
			return
		}
		if !auth.HasPermission(c.role, perm) {
			c.reply(req.ID, WSTypeError, errorPayload("not permitted: "+ch))
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()
	c.hub.logger.Debug("websocket client subscribed", "subject", c.subject, "channels", channels)
	c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": channels})

	for _, ch := range channels {
		if ch != ChannelSubsystemReadiness {
			continue
		}
		if ev, ok := c.hub.readinessSnapshot(); ok {
			if data, err := encodeMessage(WSMessage{Type: WSTypeEvent, EventType: ch, Payload: ev}); err == nil {
				c.enqueue(data)
			}
		}
	}
}

func (c *WSClient) unsubscribe(req wsRequest) {
	channels, ok := decodeChannels(req.Payload)
	if !ok {
		c.reply(req.ID, WSTypeError, errorPayload("invalid unsubscribe payload"))
		return
	}
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()
	c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

// deliver queues data if the client is subscribed to channel.
func (c *WSClient) deliver(channel string, data []byte) {
	c.mu.Lock()
	_, subscribed := c.subscriptions[channel]
	c.mu.Unlock()
	if subscribed {
		c.enqueue(data)
	}
}

// enqueue drops data when the client is closed or its queue is full. The
// closed check and the send share the lock so close never races a send.
func (c *WSClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Debug("websocket client queue full, dropping message", "subject", c.subject)
	}
}

// close ends the write pump. It is safe to call more than once.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := encodeMessage(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func encodeMessage(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
