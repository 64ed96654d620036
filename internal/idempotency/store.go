package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix = "idempotency"
	pollInterval   = 50 * time.Millisecond
)

type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store keeps one response per Idempotency-Key. Reserve marks a key in progress;
// Finalize stores the response that later lookups replay. Release drops a
// reservation whose request never reached a processor so the client may retry.
type Store interface {
	Lookup(ctx context.Context, key, requestHash string) (*Record, error)
	Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error)
	Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error)
	Release(ctx context.Context, key, requestHash string) error
	WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error)
}

type envelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	InProgress  bool   `json:"in_progress"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

func (e envelope) record(servedBy string) (*Record, error) {
	if e.InProgress {
		return nil, ErrInProgress
	}
	return &Record{
		Key:         e.Key,
		RequestHash: e.Hash,
		Status:      e.Status,
		Body:        e.Body,
		ContentType: e.ContentType,
		ServedBy:    servedBy,
	}, nil
}

// RedisStore shares idempotency keys across replicas. Keys expire after ttl.
type RedisStore struct {
	redis redis.Cmdable
	ttl   time.Duration
	clock clockz.Clock
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration, clock clockz.Clock) *RedisStore {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &RedisStore{redis: rdb, ttl: ttl, clock: clock}
}

func (s *RedisStore) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	val, err := s.redis.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		zap.L().Warn("discarding corrupt idempotency record", zap.String("key", key), zap.Error(err))
		return nil, ErrNotFound
	}
	if env.Hash != requestHash {
		return nil, ErrHashMismatch
	}
	return env.record("redis")
}

// Reserve claims key with SET NX. It reports false when another request holds it.
func (s *RedisStore) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	payload, err := json.Marshal(envelope{Key: key, Hash: requestHash, Method: method, Path: path, InProgress: true})
	if err != nil {
		return false, fmt.Errorf("marshal idempotency reservation: %w", err)
	}
	ok, err := s.redis.SetNX(ctx, redisKey(key), payload, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	env := envelope{
		Key:         key,
		Hash:        requestHash,
		Status:      status,
		Body:        body,
		ContentType: contentType,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.redis.Set(ctx, redisKey(key), payload, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	return env.record("redis")
}

// releaseScript deletes the key only while it is still this request's reservation.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local env = cjson.decode(v)
if env.in_progress and env.hash == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

func (s *RedisStore) Release(ctx context.Context, key, requestHash string) error {
	if err := releaseScript.Run(ctx, s.redis, []string{redisKey(key)}, requestHash).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	return waitForCompletion(ctx, s, s.clock, key, requestHash)
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}

// MemoryStore keeps keys in process. It serves single-replica deployments
// without Redis.
type MemoryStore struct {
	ttl   time.Duration
	clock clockz.Clock

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	env       envelope
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration, clock clockz.Clock) *MemoryStore {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &MemoryStore{ttl: ttl, clock: clock, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Lookup(_ context.Context, key, requestHash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	if e.env.Hash != requestHash {
		return nil, ErrHashMismatch
	}
	return e.env.record("memory")
}

func (s *MemoryStore) Reserve(_ context.Context, key, requestHash, method, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{
		env:       envelope{Key: key, Hash: requestHash, Method: method, Path: path, InProgress: true},
		expiresAt: s.expiry(),
	}
	return true, nil
}

func (s *MemoryStore) Finalize(_ context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env := envelope{
		Key:         key,
		Hash:        requestHash,
		Status:      status,
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
	}
	s.entries[key] = memoryEntry{env: env, expiresAt: s.expiry()}
	return env.record("memory")
}

func (s *MemoryStore) Release(_ context.Context, key, requestHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.env.InProgress && e.env.Hash == requestHash {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	return waitForCompletion(ctx, s, s.clock, key, requestHash)
}

func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(s.ttl)
}

func waitForCompletion(ctx context.Context, s Store, clock clockz.Clock, key, requestHash string) (*Record, error) {
	ticker := clock.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrInProgress) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C():
		}
	}
}
