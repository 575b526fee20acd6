// Package presence keeps the set of users known to be online for one session.
// Absence from the set means unknown, which callers show as offline.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/quartissimo/realtime/internal/events"
	"github.com/quartissimo/realtime/internal/models"
	"go.uber.org/zap"
)

// StatusSource answers per-user presence queries.
type StatusSource interface {
	UserStatus(ctx context.Context, userID uint) (*models.UserStatusResponse, error)
}

// Subscriber is the part of the channel the tracker listens on.
type Subscriber interface {
	On(event string, h events.Handler) (off func())
}

type Tracker struct {
	source StatusSource
	logger *zap.Logger

	mu     sync.RWMutex
	online map[uint]struct{}
}

func NewTracker(source StatusSource, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{source: source, logger: logger, online: make(map[uint]struct{})}
}

func (t *Tracker) IsOnline(userID uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns the known-online ids in ascending order.
func (t *Tracker) Online() []uint {
	t.mu.RLock()
	ids := make([]uint, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Apply folds one status change into the set.
func (t *Tracker) Apply(change events.StatusChange) {
	if change.UserID == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch change.Status {
	case models.PresenceOnline:
		t.online[change.UserID] = struct{}{}
	case models.PresenceOffline:
		delete(t.online, change.UserID)
	}
}

// FetchUserStatus asks the server about one user. An online answer adds the
// id; nothing here ever removes one. Failures are logged, never returned.
func (t *Tracker) FetchUserStatus(ctx context.Context, userID uint) {
	status, err := t.source.UserStatus(ctx, userID)
	if err != nil {
		t.logger.Warn("presence: status query failed", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if status.Status != models.PresenceOnline {
		return
	}
	t.mu.Lock()
	t.online[userID] = struct{}{}
	t.mu.Unlock()
}

// Attach keeps the set current from user_status_change events.
func (t *Tracker) Attach(sub Subscriber) (detach func()) {
	return sub.On(events.UserStatusChange, func(data json.RawMessage) {
		var change events.StatusChange
		if err := json.Unmarshal(data, &change); err != nil {
			t.logger.Warn("presence: malformed status change", zap.Error(err))
			return
		}
		t.Apply(change)
	})
}
