// Package webhookdedup отсекает повторные доставки вебхуков по идентификатору события провайдера.
// Это быстрый фильтр перед бизнес-логикой; окончательная дедупликация остаётся за хранилищем.
package webhookdedup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL — сколько помнить обработанное событие.
const DefaultTTL = 72 * time.Hour

// Store запоминает события. MarkNew возвращает false, если событие уже было отмечено;
// Forget снимает отметку, чтобы повторная доставка после временной ошибки обработалась заново.
type Store interface {
	MarkNew(ctx context.Context, source, eventID string) (bool, error)
	Forget(ctx context.Context, source, eventID string) error
}

func key(source, eventID string) string {
	return "printshop:webhook:" + source + ":" + eventID
}

// MemoryStore — Store в памяти процесса.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemoryStore создаёт MemoryStore; ttl <= 0 означает DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (s *MemoryStore) MarkNew(_ context.Context, source, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.seen {
		if !exp.After(now) {
			delete(s.seen, k)
		}
	}
	k := key(source, eventID)
	if _, ok := s.seen[k]; ok {
		return false, nil
	}
	s.seen[k] = now.Add(s.ttl)
	return true, nil
}

func (s *MemoryStore) Forget(_ context.Context, source, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key(source, eventID))
	return nil
}

// Cmdable — подмножество команд Redis, которое использует RedisStore.
type Cmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore — Store на SET NX с TTL; общий для всех реплик сервиса.
type RedisStore struct {
	client Cmdable
	ttl    time.Duration
}

// NewRedisStore создаёт RedisStore; ttl <= 0 означает DefaultTTL.
func NewRedisStore(client Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) MarkNew(ctx context.Context, source, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return true, nil
	}
	return s.client.SetNX(ctx, key(source, eventID), 1, s.ttl).Result()
}

func (s *RedisStore) Forget(ctx context.Context, source, eventID string) error {
	return s.client.Del(ctx, key(source, eventID)).Err()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
