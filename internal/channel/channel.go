// Package channel is the client side of the real-time socket: one
// authenticated connection per session, redialled on failure, with any
// number of independent event listeners.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/quartissimo/realtime/internal/events"
	"github.com/quartissimo/realtime/internal/session"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Emit while no connection is up.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrRejected means the server refused the auth frame; redialling will not help.
	ErrRejected = errors.New("channel: authentication rejected")
)

// Options configures Dial. Zero values fall back to the defaults.
type Options struct {
	Path              string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PingInterval      time.Duration
	PongWait          time.Duration
	HandshakeTimeout  time.Duration
	WriteWait         time.Duration
	Logger            *zap.Logger
	Dialer            *websocket.Dialer
}

func (o *Options) setDefaults() {
	if o.Path == "" {
		o.Path = "/api/socket.io"
	}
	if o.ReconnectAttempts < 0 {
		o.ReconnectAttempts = 0
	} else if o.ReconnectAttempts == 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Channel is safe for concurrent use. Handlers run on the read goroutine and
// must not block for long.
type Channel struct {
	session *session.Session
	opts    Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex
	ws *websocket.Conn

	writeMu sync.Mutex

	lmu       sync.RWMutex
	listeners map[string]map[uint64]events.Handler
	nextID    uint64
}

// Dial connects and authenticates, retrying like a reconnect would. The
// returned channel keeps itself connected until Close or ctx ends.
func Dial(ctx context.Context, s *session.Session, opts Options) (*Channel, error) {
	opts.setDefaults()
	cctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		session:   s,
		opts:      opts,
		logger:    opts.Logger,
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		listeners: make(map[string]map[uint64]events.Handler),
	}

	ws, err := c.connectWithRetry()
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(ws)
	go c.run(ws)
	return c, nil
}

// On registers h for event and returns a function removing exactly that
// registration. Every listener of an event is called.
func (c *Channel) On(event string, h events.Handler) (off func()) {
	c.lmu.Lock()
	c.nextID++
	id := c.nextID
	set, ok := c.listeners[event]
	if !ok {
		set = make(map[uint64]events.Handler)
		c.listeners[event] = set
	}
	set[id] = h
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners[event], id)
			if len(c.listeners[event]) == 0 {
				delete(c.listeners, event)
			}
			c.lmu.Unlock()
		})
	}
}

// ListenerCount reports how many handlers are registered for event.
func (c *Channel) ListenerCount(event string) int {
	c.lmu.RLock()
	defer c.lmu.RUnlock()
	return len(c.listeners[event])
}

// Emit sends one event. It does not queue: while disconnected it fails fast.
func (c *Channel) Emit(event string, payload any) error {
	frame, err := events.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("channel: encode %s: %w", event, err)
	}

	ws := c.conn()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("channel: emit %s: %w", event, err)
	}
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Channel) Connected() bool {
	return c.conn() != nil
}

// Close tears the connection down and stops reconnecting. Safe to call twice.
func (c *Channel) Close() error {
	c.once.Do(func() {
		c.cancel()
		if ws := c.conn(); ws != nil {
			c.writeMu.Lock()
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			c.writeMu.Unlock()
			ws.Close()
		}
	})
	<-c.done
	return nil
}

func (c *Channel) conn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

func (c *Channel) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

// install publishes ws unless Close has already started, in which case ws is
// closed instead. Close cancels before reading the connection, so holding mu
// here means one of the two always closes it.
func (c *Channel) install(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		ws.Close()
		return false
	}
	c.ws = ws
	return true
}

// run owns the connection lifecycle until Close or reconnection gives up.
func (c *Channel) run(ws *websocket.Conn) {
	defer close(c.done)
	for {
		err := c.serve(ws)
		c.setConn(nil)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("channel: connection lost", zap.Error(err))

		ws, err = c.connectWithRetry()
		if err != nil {
			c.logger.Error("channel: giving up reconnecting", zap.Error(err))
			return
		}
		if !c.install(ws) {
			return
		}
		c.logger.Info("channel: reconnected")
	}
}

func (c *Channel) connectWithRetry() (*websocket.Conn, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ReconnectDelay), uint64(c.opts.ReconnectAttempts)),
		c.ctx,
	)
	return backoff.RetryNotifyWithData(c.connect, policy, func(err error, wait time.Duration) {
		c.logger.Info("channel: connect failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
}

// connect dials and performs the auth handshake. The token is read fresh.
func (c *Channel) connect() (*websocket.Conn, error) {
	token, err := c.session.Tokens.Token()
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	dialCtx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeout)
	defer cancel()
	ws, _, err := c.opts.Dialer.DialContext(dialCtx, c.session.SocketURL(c.opts.Path), nil)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(events.Auth{Token: token}); err != nil {
		ws.Close()
		return nil, err
	}

	ws.SetReadDeadline(deadline)
	var ack events.Envelope
	if err := ws.ReadJSON(&ack); err != nil {
		ws.Close()
		return nil, err
	}
	switch ack.Event {
	case events.Connected:
		return ws, nil
	case events.Error:
		ws.Close()
		var payload events.ErrorPayload
		_ = json.Unmarshal(ack.Data, &payload)
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, payload.Message))
	default:
		ws.Close()
		return nil, fmt.Errorf("channel: unexpected handshake event %q", ack.Event)
	}
}

// serve reads frames until the connection fails.
func (c *Channel) serve(ws *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.heartbeat(ws, stop)

	ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			return err
		}
		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("channel: malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Channel) heartbeat(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				ws.Close()
				return
			}
		}
	}
}

func (c *Channel) dispatch(env events.Envelope) {
	c.lmu.RLock()
	handlers := make([]events.Handler, 0, len(c.listeners[env.Event]))
	for _, h := range c.listeners[env.Event] {
		handlers = append(handlers, h)
	}
	c.lmu.RUnlock()

	if env.Event == events.Error {
		c.logger.Warn("channel: server error", zap.ByteString("data", env.Data))
	}
	for _, h := range handlers {
		h(env.Data)
	}
}
