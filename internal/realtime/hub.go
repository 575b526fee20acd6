// Package realtime serves the websocket channel: presence transitions and
// fan-out of freshly persisted messages.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quartissimo/realtime/internal/events"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/repositories"
	"go.uber.org/zap"
)

// Options tunes connection timing. Zero values fall back to the defaults.
type Options struct {
	AuthWait   time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o *Options) setDefaults() {
	if o.AuthWait <= 0 {
		o.AuthWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
}

const maxFrameSize = 64 * 1024

// Hub tracks every authenticated connection, keyed by user.
type Hub struct {
	secret      string
	messages    repositories.MessageRepository
	groups      repositories.GroupRepository
	presence    repositories.PresenceStore
	presenceLog repositories.PresenceLogRepository
	logger      *zap.Logger
	opts        Options
	upgrader    websocket.Upgrader

	// transitions serializes online/offline decisions so the store never
	// sees them out of order for one user.
	transitions sync.Mutex

	mu    sync.RWMutex
	conns map[uint]map[string]*conn
}

// NewHub creates a hub. presenceLog may be nil.
func NewHub(
	secret string,
	messages repositories.MessageRepository,
	groups repositories.GroupRepository,
	presence repositories.PresenceStore,
	presenceLog repositories.PresenceLogRepository,
	logger *zap.Logger,
	opts Options,
) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	return &Hub{
		secret:      secret,
		messages:    messages,
		groups:      groups,
		presence:    presence,
		presenceLog: presenceLog,
		logger:      logger,
		opts:        opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[uint]map[string]*conn),
	}
}

// ConnectionCount returns the number of open sockets for userID.
func (h *Hub) ConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) register(c *conn) {
	h.transitions.Lock()
	defer h.transitions.Unlock()

	h.mu.Lock()
	set, ok := h.conns[c.userID]
	if !ok {
		set = make(map[string]*conn)
		h.conns[c.userID] = set
	}
	first := len(set) == 0
	set[c.id] = c
	h.mu.Unlock()

	h.logger.Info("socket connected", zap.Uint("user_id", c.userID), zap.String("conn_id", c.id))
	if first {
		h.transition(c.userID, models.PresenceOnline)
	}
}

func (h *Hub) unregister(c *conn) {
	h.transitions.Lock()
	defer h.transitions.Unlock()

	h.mu.Lock()
	set := h.conns[c.userID]
	if _, ok := set[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c.id)
	last := len(set) == 0
	if last {
		delete(h.conns, c.userID)
	}
	h.mu.Unlock()

	h.logger.Info("socket disconnected", zap.Uint("user_id", c.userID), zap.String("conn_id", c.id))
	if last {
		h.transition(c.userID, models.PresenceOffline)
	}
}

// transition records the new state and tells every connected client.
func (h *Hub) transition(userID uint, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if status == models.PresenceOnline {
		err = h.presence.SetOnline(ctx, userID)
	} else {
		err = h.presence.SetOffline(ctx, userID)
	}
	if err != nil {
		h.logger.Error("presence update failed", zap.Uint("user_id", userID), zap.String("status", status), zap.Error(err))
	}

	if h.presenceLog != nil {
		event := &models.PresenceEvent{UserID: userID, Status: status, At: time.Now().UTC()}
		if err := h.presenceLog.Record(ctx, event); err != nil {
			h.logger.Warn("presence log write failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	}

	frame, err := events.Encode(events.UserStatusChange, events.StatusChange{UserID: userID, Status: status})
	if err != nil {
		h.logger.Error("encode status change", zap.Error(err))
		return
	}
	h.broadcast(frame)
}

func (h *Hub) broadcast(frame []byte) {
	for _, c := range h.snapshot(func(uint) bool { return true }) {
		h.deliver(c, frame)
	}
}

func (h *Hub) sendToUser(userID uint, frame []byte, skip *conn) int {
	sent := 0
	for _, c := range h.snapshot(func(id uint) bool { return id == userID }) {
		if c == skip {
			continue
		}
		h.deliver(c, frame)
		sent++
	}
	return sent
}

func (h *Hub) snapshot(match func(userID uint) bool) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*conn
	for userID, set := range h.conns {
		if !match(userID) {
			continue
		}
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// deliver queues frame on c; a connection that cannot keep up is dropped.
func (h *Hub) deliver(c *conn, frame []byte) {
	if !c.enqueue(frame) {
		h.logger.Warn("send queue full, dropping socket", zap.Uint("user_id", c.userID), zap.String("conn_id", c.id))
		c.close()
	}
}

// relay loads the referenced message and forwards it to its audience.
func (h *Hub) relay(c *conn, data json.RawMessage) {
	var ref events.MessageRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.ID == 0 {
		c.sendError(h.logger, "invalid new_message payload")
		return
	}

	msg, err := h.messages.GetMessageByID(ref.ID)
	if err != nil {
		h.logger.Warn("relay: message lookup failed", zap.Uint("message_id", ref.ID), zap.Error(err))
		c.sendError(h.logger, "message not found")
		return
	}
	if msg.SenderUserID() != c.userID {
		c.sendError(h.logger, "only the sender can announce a message")
		return
	}

	frame, err := events.Encode(events.ReceiveMessage, msg)
	if err != nil {
		h.logger.Error("encode receive_message", zap.Error(err))
		return
	}

	recipients := []uint{msg.ReceiverUserID()}
	if msg.IsGroup() {
		recipients, err = h.groups.MemberIDs(msg.GroupRefID())
		if err != nil {
			h.logger.Error("relay: member lookup failed", zap.Uint("group_id", msg.GroupRefID()), zap.Error(err))
			return
		}
	}

	delivered := 0
	for _, userID := range recipients {
		if userID == c.userID {
			continue
		}
		delivered += h.sendToUser(userID, frame, nil)
	}
	// the sender's other devices keep their open conversation in step
	h.sendToUser(c.userID, frame, c)

	h.logger.Debug("message relayed",
		zap.Uint("message_id", msg.ID),
		zap.Int("connections", delivered))
}
