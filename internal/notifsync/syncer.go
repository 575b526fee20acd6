// Package notifsync keeps a local notification list in step with the
// server's read flags: optimistic local writes, bounded retries, rollback on
// failure and periodic full re-reads.
package notifsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/quartissimo/realtime/internal/api"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/notification"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned for an id missing from the local list.
var ErrNotFound = errors.New("notifsync: notification not found")

// MessageAPI is the part of the REST client the synchronizer needs.
type MessageAPI interface {
	ListMessages(ctx context.Context, q api.Query) ([]models.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID uint, status string) error
}

// Options tunes the synchronizer. Zero values fall back to the defaults.
type Options struct {
	SyncInterval        time.Duration
	FetchLimit          int
	RetryAttempts       int
	RetryDelay          time.Duration
	RefreshDelay        time.Duration
	MaxConcurrentWrites int
	Logger              *zap.Logger
	// OnChange receives a copy of the list after every local change.
	OnChange func([]notification.Notification)
	// OnMutation is called when a mutation starts and when it settles.
	OnMutation func(Mutation)
}

func (o *Options) setDefaults() {
	if o.SyncInterval <= 0 {
		o.SyncInterval = 30 * time.Second
	}
	if o.FetchLimit <= 0 {
		o.FetchLimit = 100
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.RefreshDelay <= 0 {
		o.RefreshDelay = time.Second
	}
	if o.MaxConcurrentWrites <= 0 {
		o.MaxConcurrentWrites = 4
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type Syncer struct {
	api    MessageAPI
	userID uint
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	list []notification.Notification
	// inFlight holds the pending mutation per message id
	inFlight map[uint]*Mutation

	refreshes sync.WaitGroup
}

func New(client MessageAPI, userID uint, opts Options) *Syncer {
	opts.setDefaults()
	return &Syncer{
		api:      client,
		userID:   userID,
		opts:     opts,
		logger:   opts.Logger,
		inFlight: make(map[uint]*Mutation),
	}
}

// Snapshot returns a copy of the current list, newest first.
func (s *Syncer) Snapshot() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Notification(nil), s.list...)
}

func (s *Syncer) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return notification.UnreadCount(s.list)
}

// Fetch re-reads recent messages and replaces the whole list. On error the
// current list is kept. Pending mutations keep their optimistic value.
func (s *Syncer) Fetch(ctx context.Context) error {
	msgs, err := s.api.ListMessages(ctx, api.Query{Page: 1, Limit: s.opts.FetchLimit})
	if err != nil {
		return fmt.Errorf("notifsync: fetch: %w", err)
	}
	list := notification.FilterNotifications(msgs, s.userID)

	s.mu.Lock()
	for i := range list {
		if m, ok := s.inFlight[list[i].Data.MessageID]; ok {
			list[i].IsRead = m.Value()
		}
	}
	s.list = list
	snapshot := append([]notification.Notification(nil), list...)
	s.mu.Unlock()

	s.changed(snapshot)
	return nil
}

// Run fetches now and then every SyncInterval until ctx ends. Failures are
// logged; the stale list stays in place.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SyncInterval)
	defer ticker.Stop()
	for {
		if err := s.Fetch(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("background sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// MarkAsRead flips one notification to read locally, then confirms it with
// the server. A notification without a message id is flipped locally only.
// When every attempt fails the flag is restored and the error returned.
func (s *Syncer) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	n := s.list[idx]
	if n.IsRead {
		s.mu.Unlock()
		return nil
	}
	if n.Data.MessageID == 0 {
		s.list[idx].IsRead = true
		snapshot := append([]notification.Notification(nil), s.list...)
		s.mu.Unlock()
		s.changed(snapshot)
		return nil
	}
	if _, busy := s.inFlight[n.Data.MessageID]; busy {
		s.mu.Unlock()
		return nil
	}
	m := s.beginLocked(idx)
	snapshot := append([]notification.Notification(nil), s.list...)
	s.mu.Unlock()

	s.changed(snapshot)
	s.observe(m)

	err := s.write(ctx, m.MessageID)
	s.settle([]*Mutation{m}, []error{err})
	if err != nil {
		return fmt.Errorf("notifsync: mark %s as read: %w", id, err)
	}
	s.scheduleRefresh(ctx)
	return nil
}

// MarkAllAsRead flips every unread notification, writes them concurrently
// and rolls back exactly the ones whose write failed.
func (s *Syncer) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	var mutations []*Mutation
	flipped := false
	for i := range s.list {
		n := s.list[i]
		if n.IsRead {
			continue
		}
		if n.Data.MessageID == 0 {
			s.list[i].IsRead = true
			flipped = true
			continue
		}
		if _, busy := s.inFlight[n.Data.MessageID]; busy {
			continue
		}
		mutations = append(mutations, s.beginLocked(i))
		flipped = true
	}
	snapshot := append([]notification.Notification(nil), s.list...)
	s.mu.Unlock()

	if flipped {
		s.changed(snapshot)
	}
	if len(mutations) == 0 {
		return nil
	}
	for _, m := range mutations {
		s.observe(m)
	}

	errs := make([]error, len(mutations))
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrentWrites)
	for i, m := range mutations {
		g.Go(func() error {
			errs[i] = s.write(ctx, m.MessageID)
			return nil
		})
	}
	_ = g.Wait()

	s.settle(mutations, errs)

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("message %d: %w", mutations[i].MessageID, err))
		}
	}
	if len(failed) < len(mutations) {
		s.scheduleRefresh(ctx)
	}
	if len(failed) > 0 {
		return fmt.Errorf("notifsync: mark all as read: %w", errors.Join(failed...))
	}
	return nil
}

func (s *Syncer) scheduleRefresh(ctx context.Context) {
	done := DelayedRefresh(ctx, s.Fetch, s.opts.RefreshDelay, s.logger)
	s.refreshes.Add(1)
	go func() {
		defer s.refreshes.Done()
		<-done
	}()
}

// Wait blocks until every refresh scheduled by a confirmed write has run or
// been cancelled.
func (s *Syncer) Wait() {
	s.refreshes.Wait()
}

// beginLocked flips list[idx] to read and registers its mutation.
func (s *Syncer) beginLocked(idx int) *Mutation {
	n := s.list[idx]
	m := newMutation(n.ID, n.Data.MessageID, n.IsRead, true)
	s.list[idx].IsRead = true
	s.inFlight[m.MessageID] = m
	return m
}

func (s *Syncer) write(ctx context.Context, messageID uint) error {
	_, err := RetryAPICall(ctx, func(ctx context.Context) (struct{}, error) {
		err := s.api.UpdateMessageStatus(ctx, messageID, models.StatusRead)
		if isClientError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, s.opts.RetryAttempts, s.opts.RetryDelay)
	return err
}

// settle confirms or rolls back each mutation. The entity is looked up by
// message id since a fetch may have replaced the list meanwhile.
func (s *Syncer) settle(mutations []*Mutation, errs []error) {
	s.mu.Lock()
	for i, m := range mutations {
		if errs[i] != nil {
			_ = m.RollBack(errs[i])
			s.logger.Warn("read flag rolled back", zap.Uint("message_id", m.MessageID), zap.Error(errs[i]))
		} else {
			_ = m.Confirm()
		}
		delete(s.inFlight, m.MessageID)
		for j := range s.list {
			if s.list[j].Data.MessageID == m.MessageID {
				s.list[j].IsRead = m.Value()
			}
		}
	}
	snapshot := append([]notification.Notification(nil), s.list...)
	s.mu.Unlock()

	s.changed(snapshot)
	for _, m := range mutations {
		s.observe(m)
	}
}

func (s *Syncer) indexOf(id string) int {
	for i := range s.list {
		if s.list[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Syncer) changed(snapshot []notification.Notification) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(snapshot)
	}
}

func (s *Syncer) observe(m *Mutation) {
	if s.opts.OnMutation != nil {
		s.opts.OnMutation(*m)
	}
}

// isClientError reports 4xx answers other than 401 and 429; repeating the
// same request cannot succeed.
func isClientError(err error) bool {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusTooManyRequests:
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500
}
