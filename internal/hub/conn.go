package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"teamchat/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	// chat:send budget per socket: sustained rate with a small burst.
	sendRate  = rate.Limit(5)
	sendBurst = 10

	sendBuffer = 64
)

// frame is the wire envelope, matching the client transport: an event name,
// an optional correlation ID for acks, and the event payload.
type frame struct {
	Event models.Event    `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// conn is one authenticated websocket. Reads happen on readPump's goroutine,
// writes are serialized through the send channel by writePump.
type conn struct {
	hub       *Hub
	ws        *websocket.Conn
	id        Identity
	send      chan []byte
	limiter   *rate.Limiter
	closeOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn, id Identity) *conn {
	return &conn{
		hub:     h,
		ws:      ws,
		id:      id,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(sendRate, sendBurst),
	}
}

func (c *conn) readPump() {
	defer c.hub.disconnect(c)
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("user", c.id.UserID).Msg("socket read failed")
			}
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.hub.log.Warn().Err(err).Str("user", c.id.UserID).Msg("dropping unparseable frame")
			continue
		}
		c.hub.dispatch(c, f)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues an event toward this client. A client that cannot drain its
// buffer is dropped rather than allowed to stall the hub.
func (c *conn) push(event models.Event, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.hub.log.Error().Err(err).Str("event", string(event)).Msg("payload marshal failed")
		return
	}
	raw, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
		c.hub.log.Warn().Str("user", c.id.UserID).Msg("send buffer full, dropping client")
		c.close()
	}
}

// ack answers a correlated request. Request IDs are the client transport's
// monotonically increasing counter; zero means the sender wants no ack.
func (c *conn) ack(requestID uint64, ack models.Ack) {
	if requestID == 0 {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	raw, err := json.Marshal(frame{Event: "ack", ID: requestID, Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.send) })
}
