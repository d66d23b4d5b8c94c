package credential

import (
	"context"
	"fmt"
)

// KV is the shared key-value store the cache persists to.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Session is the credential pair issued by a vendor login.
type Session struct {
	Server string
	Key    string
	KeyID  string
}

// Valid reports whether both halves of the pair are present.
func (s Session) Valid() bool {
	return s.Key != "" && s.KeyID != ""
}

// KeyName returns the store key holding the access key for server.
func KeyName(server string) string {
	return "secure_ak_" + server
}

// KeyIDName returns the store key holding the access key id for server.
func KeyIDName(server string) string {
	return "secure_ak_id_" + server
}

// Cache stores one Session per vendor server in the shared KV store.
//
// Reads and writes are not coordinated across processes. Two concurrent
// logins may interleave their two writes, leaving a key from one login with
// the id from another; the next request then fails signature checks and the
// capability-push path invalidates and relogs in.
type Cache struct {
	kv KV
}

// NewCache builds a cache over kv.
func NewCache(kv KV) *Cache {
	return &Cache{kv: kv}
}

// Get returns the cached session for server. A nil session with a nil error
// is a miss, including the case where only one half of the pair is stored.
func (c *Cache) Get(ctx context.Context, server string) (*Session, error) {
	key, ok, err := c.kv.Get(ctx, KeyName(server))
	if err != nil {
		return nil, fmt.Errorf("reading credential for %s: %w", server, err)
	}
	if !ok || key == "" {
		return nil, nil
	}

	keyID, ok, err := c.kv.Get(ctx, KeyIDName(server))
	if err != nil {
		return nil, fmt.Errorf("reading credential id for %s: %w", server, err)
	}
	if !ok || keyID == "" {
		return nil, nil
	}

	return &Session{Server: server, Key: key, KeyID: keyID}, nil
}

// Set stores s under s.Server. The entry never expires.
func (c *Cache) Set(ctx context.Context, s Session) error {
	if s.Server == "" {
		return ErrNoServer
	}
	if !s.Valid() {
		return ErrIncomplete
	}
	if err := c.kv.Set(ctx, KeyName(s.Server), s.Key); err != nil {
		return fmt.Errorf("storing credential for %s: %w", s.Server, err)
	}
	if err := c.kv.Set(ctx, KeyIDName(s.Server), s.KeyID); err != nil {
		return fmt.Errorf("storing credential id for %s: %w", s.Server, err)
	}
	return nil
}

// Invalidate removes the session for server so the next Get misses.
func (c *Cache) Invalidate(ctx context.Context, server string) error {
	if err := c.kv.Delete(ctx, KeyName(server), KeyIDName(server)); err != nil {
		return fmt.Errorf("invalidating credential for %s: %w", server, err)
	}
	return nil
}
