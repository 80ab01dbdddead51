package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenSource hands out a valid gateway access token. Invalidate drops the
// cached token so the next call fetches a fresh one; the client uses this to
// recover when a token expires mid-session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

// FetchFunc performs the actual credential exchange and reports how long the
// returned token remains valid.
type FetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

const tokenCacheKey = "mpesa:access_token"

// Tokens are dropped a minute early so a request never leaves with a token
// about to expire in flight.
const tokenExpiryMargin = time.Minute

type redisTokenSource struct {
	client *redis.Client
	fetch  FetchFunc
}

// NewRedisTokenSource caches tokens in redis so every server process shares
// one credential exchange per expiry window.
func NewRedisTokenSource(client *redis.Client, fetch FetchFunc) TokenSource {
	return &redisTokenSource{client: client, fetch: fetch}
}

func (s *redisTokenSource) Token(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, tokenCacheKey).Result()
	if err == nil && token != "" {
		return token, nil
	}

	token, ttl, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if ttl > tokenExpiryMargin {
		s.client.Set(ctx, tokenCacheKey, token, ttl-tokenExpiryMargin)
	}
	return token, nil
}

func (s *redisTokenSource) Invalidate(ctx context.Context) {
	s.client.Del(ctx, tokenCacheKey)
}

type memoryTokenSource struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	fetch   FetchFunc
}

// NewMemoryTokenSource keeps the token in process memory. Used when no redis
// is configured, and in tests.
func NewMemoryTokenSource(fetch FetchFunc) TokenSource {
	return &memoryTokenSource{fetch: fetch}
}

func (s *memoryTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	token, ttl, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = time.Now().Add(ttl - tokenExpiryMargin)
	return token, nil
}

func (s *memoryTokenSource) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
