package output

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Message is the WebSocket frame payload. Live events use the topic name
// as Type.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WebSocketBridge forwards one bus topic to WebSocket clients. Each client
// gets its own subscription, so a slow client only loses its own events.
type WebSocketBridge struct {
	bus      ports.EventBus
	topic    string
	buffer   int
	upgrader websocket.Upgrader
	clients  atomic.Int64
}

func NewWebSocketBridge(bus ports.EventBus, topic string) *WebSocketBridge {
	if topic == "" {
		topic = ports.TopicSSHEvent
	}
	return &WebSocketBridge{
		bus:    bus,
		topic:  topic,
		buffer: 256,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
func (b *WebSocketBridge) Clients() int64 {
	return b.clients.Load()
}

func (b *WebSocketBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsClient{
		bridge: b,
		conn:   conn,
		sub:    b.bus.Subscribe(b.topic, b.buffer),
		pongs:  make(chan struct{}, 1),
	}
	b.clients.Add(1)
	log.Info().Str("subscriber", c.sub.ID()).Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	bridge *WebSocketBridge
	conn   *websocket.Conn
	sub    ports.Subscription
	pongs  chan struct{}
}

// readPump only services control frames and client pings. Its exit ends
// the subscription, which in turn stops writePump.
func (c *wsClient) readPump() {
	defer func() {
		c.bridge.bus.Unsubscribe(c.sub)
		c.bridge.clients.Add(-1)
		log.Info().Str("subscriber", c.sub.ID()).Int64("dropped", c.sub.Dropped()).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("Unexpected WebSocket close")
			}
			return
		}

		var msg Message
		if json.Unmarshal(data, &msg) == nil && msg.Type == MessageTypePing {
			select {
			case c.pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case rec, ok := <-c.sub.Events():
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(Message{Type: c.bridge.topic, Data: rec}); err != nil {
				log.Debug().Err(err).Str("subscriber", c.sub.ID()).Msg("WebSocket write failed")
				return
			}

		case <-c.pongs:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.write(Message{Type: MessageTypePong}); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
