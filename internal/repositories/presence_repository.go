package repositories

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const onlineSetKey = "presence:online"

// PresenceStore records which users currently hold a socket.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID uint) error
	SetOffline(ctx context.Context, userID uint) error
	IsOnline(ctx context.Context, userID uint) (bool, error)
}

// redisPresenceStore shares the online set between service instances.
type redisPresenceStore struct {
	client *redis.Client
}

func NewRedisPresenceStore(client *redis.Client) PresenceStore {
	return &redisPresenceStore{client: client}
}

func (s *redisPresenceStore) SetOnline(ctx context.Context, userID uint) error {
	return s.client.SAdd(ctx, onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err()
}

func (s *redisPresenceStore) SetOffline(ctx context.Context, userID uint) error {
	return s.client.SRem(ctx, onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err()
}

func (s *redisPresenceStore) IsOnline(ctx context.Context, userID uint) (bool, error) {
	return s.client.SIsMember(ctx, onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Result()
}

// memoryPresenceStore is used when no Redis address is configured.
type memoryPresenceStore struct {
	mu     sync.RWMutex
	online map[uint]struct{}
}

func NewMemoryPresenceStore() PresenceStore {
	return &memoryPresenceStore{online: make(map[uint]struct{})}
}

func (s *memoryPresenceStore) SetOnline(_ context.Context, userID uint) error {
	s.mu.Lock()
	s.online[userID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *memoryPresenceStore) SetOffline(_ context.Context, userID uint) error {
	s.mu.Lock()
	delete(s.online, userID)
	s.mu.Unlock()
	return nil
}

func (s *memoryPresenceStore) IsOnline(_ context.Context, userID uint) (bool, error) {
	s.mu.RLock()
	_, ok := s.online[userID]
	s.mu.RUnlock()
	return ok, nil
}
