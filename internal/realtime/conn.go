package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/quartissimo/realtime/internal/events"
	"github.com/quartissimo/realtime/internal/middleware"
	"go.uber.org/zap"
)

var errAuthRequired = errors.New("first frame must carry a token")

type conn struct {
	id     string
	userID uint
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *conn) sendError(logger *zap.Logger, message string) {
	frame, err := events.Encode(events.Error, events.ErrorPayload{Message: message})
	if err != nil {
		logger.Error("encode error frame", zap.Error(err))
		return
	}
	if !c.enqueue(frame) {
		c.close()
	}
}

// HandleSocket upgrades the request and serves the connection until it closes.
func (h *Hub) HandleSocket(ctx echo.Context) error {
	ws, err := h.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	ws.SetReadLimit(maxFrameSize)

	userID, err := h.authenticate(ws)
	if err != nil {
		h.logger.Info("socket rejected", zap.String("remote", ctx.RealIP()), zap.Error(err))
		h.reject(ws, err)
		return nil
	}

	c := &conn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
	}

	ack, _ := events.Encode(events.Connected, events.ConnectedPayload{UserID: userID})
	ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
	if err := ws.WriteMessage(websocket.TextMessage, ack); err != nil {
		ws.Close()
		return nil
	}

	h.register(c)
	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) authenticate(ws *websocket.Conn) (uint, error) {
	ws.SetReadDeadline(time.Now().Add(h.opts.AuthWait))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return 0, err
	}
	var auth events.Auth
	if err := json.Unmarshal(data, &auth); err != nil || auth.Token == "" {
		return 0, errAuthRequired
	}
	claims, err := middleware.ParseToken(h.secret, auth.Token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func (h *Hub) reject(ws *websocket.Conn, cause error) {
	message := "unauthorized"
	if errors.Is(cause, errAuthRequired) {
		message = cause.Error()
	}
	frame, _ := events.Encode(events.Error, events.ErrorPayload{Message: message})
	deadline := time.Now().Add(h.opts.WriteWait)
	ws.SetWriteDeadline(deadline)
	ws.WriteMessage(websocket.TextMessage, frame)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
	ws.Close()
}

func (h *Hub) readPump(c *conn) {
	defer func() {
		h.unregister(c)
		c.close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError(h.logger, "malformed frame")
			continue
		}
		switch env.Event {
		case events.NewMessage:
			h.relay(c, env.Data)
		default:
			h.logger.Debug("ignoring event", zap.String("event", env.Event), zap.String("conn_id", c.id))
		}
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}
