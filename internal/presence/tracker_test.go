package presence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/quartissimo/realtime/internal/events"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	status map[uint]string
	err    error
	calls  int
}

func (s *stubSource) UserStatus(_ context.Context, userID uint) (*models.UserStatusResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &models.UserStatusResponse{UserID: userID, Status: s.status[userID]}, nil
}

type stubSubscriber struct {
	handlers map[string]events.Handler
}

func (s *stubSubscriber) On(event string, h events.Handler) func() {
	if s.handlers == nil {
		s.handlers = make(map[string]events.Handler)
	}
	s.handlers[event] = h
	return func() { delete(s.handlers, event) }
}

func (s *stubSubscriber) fire(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	if h, ok := s.handlers[event]; ok {
		h(data)
	}
}

func TestApply_OnlineThenOffline(t *testing.T) {
	tr := NewTracker(&stubSource{}, nil)

	tr.Apply(events.StatusChange{UserID: 5, Status: "online"})
	assert.True(t, tr.IsOnline(5))
	tr.Apply(events.StatusChange{UserID: 5, Status: "offline"})
	assert.False(t, tr.IsOnline(5))
}

func TestApply_DuplicateOnlineIsOneEntry(t *testing.T) {
	tr := NewTracker(&stubSource{}, nil)

	tr.Apply(events.StatusChange{UserID: 5, Status: "online"})
	tr.Apply(events.StatusChange{UserID: 5, Status: "online"})
	tr.Apply(events.StatusChange{UserID: 3, Status: "online"})
	tr.Apply(events.StatusChange{UserID: 4, Status: "away"})

	assert.Equal(t, []uint{3, 5}, tr.Online())
}

func TestFetchUserStatus(t *testing.T) {
	src := &stubSource{status: map[uint]string{1: "online", 2: "offline"}}
	tr := NewTracker(src, nil)
	tr.Apply(events.StatusChange{UserID: 2, Status: "online"})

	tr.FetchUserStatus(t.Context(), 1)
	tr.FetchUserStatus(t.Context(), 1)
	tr.FetchUserStatus(t.Context(), 2)

	assert.True(t, tr.IsOnline(1))
	assert.True(t, tr.IsOnline(2), "a fetch never removes an id")
	assert.Equal(t, 3, src.calls)
}

func TestFetchUserStatus_SwallowsErrors(t *testing.T) {
	tr := NewTracker(&stubSource{err: errors.New("network down")}, nil)

	assert.NotPanics(t, func() { tr.FetchUserStatus(t.Context(), 9) })
	assert.False(t, tr.IsOnline(9))
}

func TestAttach(t *testing.T) {
	sub := &stubSubscriber{}
	tr := NewTracker(&stubSource{}, nil)
	detach := tr.Attach(sub)

	sub.fire(t, events.UserStatusChange, events.StatusChange{UserID: 8, Status: "online"})
	assert.True(t, tr.IsOnline(8))

	detach()
	sub.fire(t, events.UserStatusChange, events.StatusChange{UserID: 8, Status: "offline"})
	assert.True(t, tr.IsOnline(8))
}
