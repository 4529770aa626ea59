package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateBytes     = 32
	stateKeyPrefix = "oauth:state:"
)

// StateStore keeps CSRF state tokens for a limited time. Each token may be
// consumed once and yields the provider it was issued for.
type StateStore interface {
	Save(ctx context.Context, state, provider string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (provider string, err error)
}

// NewState returns a random URL-safe state token.
func NewState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RedisStateStore shares state between replicas.
type RedisStateStore struct {
	client redis.UniversalClient
}

func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) Save(ctx context.Context, state, provider string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, stateKeyPrefix+state, provider, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("oauth: state collision")
	}
	return nil
}

func (s *RedisStateStore) Consume(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", ErrInvalidState
	}
	provider, err := s.client.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidState
	}
	if err != nil {
		return "", err
	}
	return provider, nil
}

type memoryState struct {
	provider  string
	expiresAt time.Time
}

// MemoryStateStore is used when no Redis is configured. Single-process only.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]memoryState
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string]memoryState{}, now: time.Now}
}

func (s *MemoryStateStore) Save(_ context.Context, state, provider string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.states {
		if now.After(v.expiresAt) {
			delete(s.states, k)
		}
	}
	if _, ok := s.states[state]; ok {
		return errors.New("oauth: state collision")
	}
	s.states[state] = memoryState{provider: provider, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.states[state]
	if !ok {
		return "", ErrInvalidState
	}
	delete(s.states, state)
	if s.now().After(v.expiresAt) {
		return "", ErrInvalidState
	}
	return v.provider, nil
}

// RedisConfig configures Connect.
type RedisConfig struct {
	URL            string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
}

var ErrRedisNotReady = errors.New("redis: not ready")

// Connect parses the URL and pings until the server answers or attempts run out.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(errors.New("redis: invalid url"), err)
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, errors.Join(ErrRedisNotReady, lastErr)
}
