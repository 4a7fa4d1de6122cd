package auth

import (
	"context"
	"sync"
	"time"
)

// Revoker tracks revoked session ids (jti) until the session would have expired
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevoker keeps revoked ids in process memory; used when Redis is not configured
type MemoryRevoker struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

// NewMemoryRevoker creates an in-memory revoker
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Revoke marks jti as revoked for ttl
func (r *MemoryRevoker) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[jti] = r.now().Add(ttl)
	return nil
}

// IsRevoked reports whether jti is revoked, pruning it once expired
func (r *MemoryRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiry, ok := r.tokens[jti]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.tokens, jti)
		return false, nil
	}
	return true, nil
}

// KeyValueStore is the subset of the Redis cache the revoker needs
type KeyValueStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RedisRevoker stores revoked ids with a TTL so they disappear with the session
type RedisRevoker struct {
	kv KeyValueStore
}

// NewRedisRevoker creates a revoker backed by kv
func NewRedisRevoker(kv KeyValueStore) *RedisRevoker {
	return &RedisRevoker{kv: kv}
}

// Revoke marks jti as revoked for ttl
func (r *RedisRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.kv.Set(ctx, revocationKey(jti), "1", ttl)
}

// IsRevoked reports whether jti is revoked
func (r *RedisRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return r.kv.Exists(ctx, revocationKey(jti))
}

func revocationKey(jti string) string {
	return "session:revoked:" + jti
}
