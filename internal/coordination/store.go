// Package coordination wraps the ephemeral coordination store shared by
// workers: TTL'd liveness keys for heartbeats and named locks with
// token-checked release for stuck-job recovery.
package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	livenessPrefix = "docforge:worker:alive:"
	lockPrefix     = "docforge:lock:"
)

// releaseScript deletes a lock key only when it still holds the caller's
// token, so an expired-and-reacquired lock is never released by the old
// holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store is the process-singleton coordination client. Lifecycle is bound to
// worker start and shutdown.
type Store struct {
	client *redis.Client
}

// NewStore connects to the coordination store at url (redis:// form).
func NewStore(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse coordination store URL: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// NewStoreWithClient wraps an existing client (used in tests).
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping coordination store: %w", err)
	}
	return nil
}

// Heartbeat refreshes the worker's liveness key with the given TTL.
func (s *Store) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	key := livenessPrefix + workerID
	if err := s.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("refresh liveness key: %w", err)
	}
	return nil
}

// IsAlive reports whether a worker's liveness key is present.
func (s *Store) IsAlive(ctx context.Context, workerID string) (bool, error) {
	n, err := s.client.Exists(ctx, livenessPrefix+workerID).Result()
	if err != nil {
		return false, fmt.Errorf("check liveness key: %w", err)
	}
	return n > 0, nil
}

// Lock is a held named lock. Release is token-checked: only the acquiring
// holder can release it, and releasing an expired lock is a no-op.
type Lock struct {
	store *Store
	key   string
	token string
}

// AcquireLock attempts to take the named lock with the given TTL. Returns
// (nil, nil) when another holder has it.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := lockPrefix + name
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{store: s, key: key, token: token}, nil
}

// Release gives the lock back. Safe to call after expiry.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.store.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// Close shuts down the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
