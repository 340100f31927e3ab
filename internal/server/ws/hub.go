// Package ws streams engine events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Format is the frame encoding a client asked for.
type Format string

const (
	FormatJSON  Format = "json"
	FormatProto Format = "proto"
)

// Subscriber is the event bus surface the hub reads from.
type Subscriber interface {
	Subscribe(buffer int, kinds ...domain.EventKind) (<-chan domain.Event, func())
}

// SnapshotFunc returns the state pushed to a client when it connects.
type SnapshotFunc func() (domain.EngineSnapshot, bool)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type frame struct {
	kind domain.EventKind
	data []byte
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	format Format
	send   chan frame
	mu     sync.RWMutex
	kinds  map[domain.EventKind]bool
}

// subscribeMsg changes which event kinds a client receives, e.g.
// {"action":"subscribe","kinds":["trade","alert"]}.
type subscribeMsg struct {
	Action string             `json:"action"`
	Kinds  []domain.EventKind `json:"kinds"`
}

// Hub fans bus events out to connected clients.
type Hub struct {
	bus        Subscriber
	snapshot   SnapshotFunc
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub. snapshot may be nil.
func NewHub(bus Subscriber, snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		snapshot:   snapshot,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run relays events until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	events, cancel := h.bus.Subscribe(512)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client connected", slog.Int("clients", n), slog.String("format", string(c.format)))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client disconnected", slog.Int("clients", n))

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.fanOut(ev)
		}
	}
}

func (h *Hub) fanOut(ev domain.Event) {
	encoded := make(map[Format][]byte, 2)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.Kind) {
			continue
		}
		data, ok := encoded[c.format]
		if !ok {
			var err error
			if data, err = Encode(ev, c.format); err != nil {
				h.logger.Warn("ws encode failed", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
				return
			}
			encoded[c.format] = data
		}
		select {
		case c.send <- frame{kind: ev.Kind, data: data}:
		default:
			h.logger.Debug("ws dropping event for slow client", slog.String("kind", string(ev.Kind)))
		}
	}
}

// Clients returns the connected client count.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request. ?format=proto selects binary structpb
// frames; ?kinds=state,trade limits the initial subscription.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	format := FormatJSON
	if Format(r.URL.Query().Get("format")) == FormatProto {
		format = FormatProto
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		format: format,
		send:   make(chan frame, sendBufferSize),
		kinds:  parseKinds(r.URL.Query().Get("kinds")),
	}
	c.sendSnapshot()

	h.register <- c
	go c.writePump()
	go c.readPump()
}

// Encode renders ev as a JSON text payload or a protobuf Struct.
func Encode(ev domain.Event, format Format) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal event: %w", err)
	}
	if format != FormatProto {
		return raw, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("ws: event to map: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("ws: event to struct: %w", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal struct: %w", err)
	}
	return data, nil
}

func parseKinds(q string) map[domain.EventKind]bool {
	kinds := make(map[domain.EventKind]bool)
	if q == "" {
		for _, k := range []domain.EventKind{domain.EventState, domain.EventTrade, domain.EventLog, domain.EventAlert} {
			kinds[k] = true
		}
		return kinds
	}
	for _, k := range strings.Split(q, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[domain.EventKind(k)] = true
		}
	}
	return kinds
}

func (c *client) wants(kind domain.EventKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kinds[kind]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range msg.Kinds {
		switch msg.Action {
		case "subscribe":
			c.kinds[k] = true
		case "unsubscribe":
			delete(c.kinds, k)
		}
	}
}

func (c *client) sendSnapshot() {
	if c.hub.snapshot == nil {
		return
	}
	snap, ok := c.hub.snapshot()
	if !ok {
		return
	}
	data, err := Encode(domain.Event{Kind: domain.EventState, Time: snap.UpdatedAt, Payload: snap}, c.format)
	if err != nil {
		return
	}
	c.send <- frame{kind: domain.EventState, data: data}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("ws unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.format == FormatProto {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, f.data); err != nil {
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
