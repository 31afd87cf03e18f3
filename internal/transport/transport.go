// Package transport maintains the authenticated signaling channel: one
// websocket per user session, bounded-retry reconnection, fire-and-forget
// emits and acknowledged requests.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"teamchat/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ConnState is the connection lifecycle surfaced to the session layer; the
// send affordance is gated on StateConnected.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	// StateFailed is terminal: the retry budget is spent and the only
	// recovery path is a fresh Connect.
	StateFailed
)

// Handler receives the raw payload of one event. Handlers run on the single
// reader goroutine, so per-connection event order is preserved; anything slow
// must hop onto its own goroutine.
type Handler func(data json.RawMessage)

type Client struct {
	url    string
	token  string
	log    zerolog.Logger
	dialer *websocket.Dialer

	retryAttempts int
	retryDelay    time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	lastErr  error
	handlers map[models.Event][]Handler
	pending  map[uint64]chan models.Ack
	nextID   uint64
	onState  func(ConnState, error)

	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	// RetryAttempts bounds automatic reconnects before the transport goes
	// terminal. Zero means the default of 5.
	RetryAttempts int
	RetryDelay    time.Duration
	OnState       func(ConnState, error)
}

func New(url, token string, log zerolog.Logger, opts Options) *Client {
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 5
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second
	}
	return &Client{
		url:           url,
		token:         token,
		log:           log.With().Str("component", "transport").Logger(),
		dialer:        &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		retryAttempts: opts.RetryAttempts,
		retryDelay:    opts.RetryDelay,
		handlers:      make(map[models.Event][]Handler),
		pending:       make(map[uint64]chan models.Ack),
		onState:       opts.OnState,
	}
}

// On subscribes a handler. Subscriptions survive reconnects; register before
// Connect so no event from the first session is missed.
func (c *Client) On(ev models.Event, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[ev] = append(c.handlers[ev], h)
}

// State returns the current connection state and, for StateFailed, the error
// that exhausted the retry budget.
func (c *Client) State() (ConnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Connect dials the signaling server and starts the read and ping loops. It
// returns once the first connection is established (or fails).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateFailed, err)
		c.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()

	go c.run(runCtx, conn)
	c.log.Info().Str("url", c.url).Msg("connected to signaling server")
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+c.token)
	conn, _, err := c.dialer.DialContext(ctx, c.url, hdr)
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return conn, nil
}

// run owns one underlying connection: a ping ticker plus the read loop. On
// read failure it attempts the bounded reconnect sequence; on success a new
// run goroutine takes over.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				cur := c.conn
				c.mu.Unlock()
				if cur != conn {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer close(pingDone)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("read failed, reconnecting")
			c.reconnect(ctx)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if f.Event == ackEvent {
			c.resolveAck(f)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	c.mu.Lock()
	hs := make([]Handler, len(c.handlers[f.Event]))
	copy(hs, c.handlers[f.Event])
	c.mu.Unlock()
	if len(hs) == 0 {
		c.log.Debug().Str("event", string(f.Event)).Msg("no handler for event")
		return
	}
	for _, h := range hs {
		h(f.Data)
	}
}

func (c *Client) resolveAck(f frame) {
	var ack models.Ack
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			c.log.Warn().Err(err).Uint64("id", f.ID).Msg("malformed ack")
		}
	}
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if ok {
		ch <- ack
	}
}

// reconnect runs the fixed-delay retry sequence. Each failed attempt consumes
// budget; exhausting it parks the transport in StateFailed — manual recovery
// only, no infinite retry.
func (c *Client) reconnect(ctx context.Context) {
	c.mu.Lock()
	c.conn = nil
	c.failPendingLocked()
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
		conn, err := c.dial(ctx)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.done = make(chan struct{})
		c.setStateLocked(StateConnected, nil)
		c.mu.Unlock()
		c.log.Info().Int("attempt", attempt).Msg("reconnected")
		go c.run(ctx, conn)
		return
	}

	err := ErrReconnectFailed
	if lastErr != nil {
		err = ErrReconnectFailed.WithDetails(lastErr.Error())
	}
	c.mu.Lock()
	c.setStateLocked(StateFailed, err)
	c.mu.Unlock()
	c.log.Error().Err(err).Msg("reconnect budget exhausted")
}

func (c *Client) setStateLocked(s ConnState, err error) {
	c.state = s
	c.lastErr = err
	if c.onState != nil {
		go c.onState(s, err)
	}
}

func (c *Client) failPendingLocked() {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- models.Ack{Success: false, Message: "connection lost"}
	}
}

// Emit sends an event without waiting for an acknowledgement.
func (c *Client) Emit(ev models.Event, payload any) error {
	return c.write(frame{Event: ev}, payload)
}

// Request sends an event and waits for the correlated acknowledgement.
func (c *Client) Request(ctx context.Context, ev models.Event, payload any) (models.Ack, error) {
	ch := make(chan models.Ack, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(frame{Event: ev, ID: id}, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return models.Ack{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return models.Ack{}, ErrAckTimeout.WithDetails(ctx.Err().Error())
	}
}

func (c *Client) write(f frame, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.Data = data

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != StateConnected {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

// Close tears the connection down and stops any reconnect in progress.
func (c *Client) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.failPendingLocked()
	c.setStateLocked(StateDisconnected, nil)
	c.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	}
}
