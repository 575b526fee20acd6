// Package conversation holds the message feed of one open direct or group
// conversation: history first, then live messages from the channel.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/quartissimo/realtime/internal/api"
	"github.com/quartissimo/realtime/internal/events"
	"github.com/quartissimo/realtime/internal/models"
	"go.uber.org/zap"
)

// ErrInvalidTarget is returned unless exactly one of PeerID and GroupID is set.
var ErrInvalidTarget = errors.New("conversation: target needs exactly one of peer or group")

// MessageAPI is the part of the REST client a conversation uses.
type MessageAPI interface {
	ListMessages(ctx context.Context, q api.Query) ([]models.Message, error)
	ListGroupMessages(ctx context.Context, groupID uint, limit int) ([]models.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID uint, status string) error
	SendMessage(ctx context.Context, receiverID uint, content string) (*models.Message, error)
	SendGroupMessage(ctx context.Context, groupID uint, content string) (*models.Message, error)
}

// Channel is the part of the real-time channel a conversation uses.
type Channel interface {
	On(event string, h events.Handler) (off func())
	Emit(event string, payload any) error
}

// Target names the conversation: a peer user or a group.
type Target struct {
	PeerID  uint
	GroupID uint
}

func (t Target) validate() error {
	if (t.PeerID == 0) == (t.GroupID == 0) {
		return ErrInvalidTarget
	}
	return nil
}

type Options struct {
	HistoryLimit int
	Logger       *zap.Logger
	// OnMessage is called for every live message added to the feed.
	OnMessage func(models.Message)
}

// View is safe for concurrent use; live messages arrive on the channel's
// read goroutine.
type View struct {
	userID uint
	api    MessageAPI
	ch     Channel
	target Target
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	messages []models.Message
	ids      map[uint]struct{}

	off    func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Open loads the history, starts following the channel, then marks unread
// messages addressed to userID as read. The listener is attached before any
// receipt is sent so pushes arriving meanwhile land in the feed.
func Open(ctx context.Context, userID uint, client MessageAPI, ch Channel, target Target, opts Options) (*View, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 500
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	v := &View{
		userID: userID,
		api:    client,
		ch:     ch,
		target: target,
		opts:   opts,
		logger: opts.Logger,
		ids:    make(map[uint]struct{}),
	}

	history, err := v.history(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		v.insert(m)
	}

	v.ctx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))
	v.off = ch.On(events.ReceiveMessage, v.onReceive)

	for _, m := range v.Messages() {
		if !v.needsReceipt(m) {
			continue
		}
		if err := client.UpdateMessageStatus(ctx, m.ID, models.StatusRead); err != nil {
			v.logger.Warn("conversation: read receipt failed", zap.Uint("message_id", m.ID), zap.Error(err))
			continue
		}
		v.setStatus(m.ID, models.StatusRead)
	}
	return v, nil
}

func (v *View) history(ctx context.Context) ([]models.Message, error) {
	if v.target.GroupID != 0 {
		return v.api.ListGroupMessages(ctx, v.target.GroupID, v.opts.HistoryLimit)
	}
	return v.api.ListMessages(ctx, api.Query{
		Limit:      v.opts.HistoryLimit,
		SenderID:   v.userID,
		ReceiverID: v.target.PeerID,
	})
}

// Matches reports whether m belongs to this conversation.
func (v *View) Matches(m *models.Message) bool {
	if v.target.GroupID != 0 {
		return m.GroupRefID() == v.target.GroupID
	}
	if m.IsGroup() {
		return false
	}
	sender, receiver := m.SenderUserID(), m.ReceiverUserID()
	return (sender == v.userID && receiver == v.target.PeerID) ||
		(sender == v.target.PeerID && receiver == v.userID)
}

// Messages returns the feed in ascending date order.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.Message(nil), v.messages...)
}

// Send persists content over REST, appends the stored message and announces
// it on the channel. Only the REST write can fail the call.
func (v *View) Send(ctx context.Context, content string) (*models.Message, error) {
	var (
		msg *models.Message
		err error
	)
	if v.target.GroupID != 0 {
		msg, err = v.api.SendGroupMessage(ctx, v.target.GroupID, content)
	} else {
		msg, err = v.api.SendMessage(ctx, v.target.PeerID, content)
	}
	if err != nil {
		return nil, err
	}

	v.insert(*msg)
	if err := v.ch.Emit(events.NewMessage, msg); err != nil {
		v.logger.Warn("conversation: announce failed", zap.Uint("message_id", msg.ID), zap.Error(err))
	}
	return msg, nil
}

// Close stops following the channel and waits for pending read receipts.
func (v *View) Close() {
	v.once.Do(func() {
		v.off()
		v.cancel()
		v.wg.Wait()
	})
}

func (v *View) onReceive(data json.RawMessage) {
	if v.ctx.Err() != nil {
		return
	}
	var m models.Message
	if err := json.Unmarshal(data, &m); err != nil {
		v.logger.Warn("conversation: malformed message", zap.Error(err))
		return
	}
	if !v.Matches(&m) || !v.insert(m) {
		return
	}
	if v.opts.OnMessage != nil {
		v.opts.OnMessage(m)
	}
	if !v.needsReceipt(m) {
		return
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if err := v.api.UpdateMessageStatus(v.ctx, m.ID, models.StatusRead); err != nil {
			v.logger.Warn("conversation: read receipt failed", zap.Uint("message_id", m.ID), zap.Error(err))
			return
		}
		v.setStatus(m.ID, models.StatusRead)
	}()
}

func (v *View) needsReceipt(m models.Message) bool {
	return !m.IsGroup() && m.ReceiverUserID() == v.userID && !m.IsRead()
}

// insert places m by (date_sent, id) unless its id is already in the feed.
func (v *View) insert(m models.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, dup := v.ids[m.ID]; dup {
		return false
	}
	v.ids[m.ID] = struct{}{}

	i := sort.Search(len(v.messages), func(i int) bool {
		other := v.messages[i]
		if other.DateSent.Equal(m.DateSent) {
			return other.ID > m.ID
		}
		return other.DateSent.After(m.DateSent)
	})
	v.messages = append(v.messages, models.Message{})
	copy(v.messages[i+1:], v.messages[i:])
	v.messages[i] = m
	return true
}

func (v *View) setStatus(id uint, status string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.messages {
		if v.messages[i].ID == id {
			v.messages[i].Status = status
			return
		}
	}
}
