package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoCredentials indica que no hay tokens guardados en el store.
var ErrNoCredentials = errors.New("auth: no credentials stored")

// TokenStore guarda el par access/refresh emitido por el servicio de
// identidad. Es el unico lugar del proceso donde viven las credenciales:
// se inicializa en el login y se limpia en el logout o cuando un refresh
// falla de forma irrecuperable.
type TokenStore interface {
	Access() (string, error)
	Refresh() (string, error)
	SetAccess(token string) error
	SetPair(access, refresh string) error
	Clear() error
}

type memoryTokenStore struct {
	mu      sync.Mutex
	access  string
	refresh string
}

// NewMemoryTokenStore crea un store en memoria para el proceso actual.
func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{}
}

func (s *memoryTokenStore) Access() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access == "" {
		return "", ErrNoCredentials
	}
	return s.access, nil
}

func (s *memoryTokenStore) Refresh() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh == "" {
		return "", ErrNoCredentials
	}
	return s.refresh, nil
}

func (s *memoryTokenStore) SetAccess(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = strings.TrimSpace(token)
	return nil
}

func (s *memoryTokenStore) SetPair(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = strings.TrimSpace(access)
	s.refresh = strings.TrimSpace(refresh)
	return nil
}

func (s *memoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
	return nil
}

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisTokenStore struct {
	client redisKV
	prefix string
}

// NewRedisTokenStore crea un store respaldado en redis, para sesiones que
// sobreviven al proceso (varias instancias del cliente compartiendo login).
func NewRedisTokenStore(client *redis.Client) TokenStore {
	if client == nil {
		return nil
	}
	return &redisTokenStore{
		client: client,
		prefix: "auth:session:",
	}
}

func (s *redisTokenStore) get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", err
	}
	if val == "" {
		return "", ErrNoCredentials
	}
	return val, nil
}

func (s *redisTokenStore) Access() (string, error) {
	return s.get("access")
}

func (s *redisTokenStore) Refresh() (string, error) {
	return s.get("refresh")
}

func (s *redisTokenStore) SetAccess(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return s.client.Set(ctx, s.prefix+"access", strings.TrimSpace(token), 0).Err()
}

func (s *redisTokenStore) SetPair(access, refresh string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := s.client.Set(ctx, s.prefix+"access", strings.TrimSpace(access), 0).Err(); err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+"refresh", strings.TrimSpace(refresh), 0).Err()
}

func (s *redisTokenStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	return s.client.Del(ctx, s.prefix+"access", s.prefix+"refresh").Err()
}
