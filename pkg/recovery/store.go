package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// Keys of the persisted schema.
const (
	KeySessions   = "sessions"
	KeyPending    = "pending"
	KeyUnresolved = "unresolved"
	KeyLastResult = "last_result"
	KeySeed       = "seed"
)

const defaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Store is the RecoveryStore. All other components persist exclusively through it.
type Store struct {
	kv ports.KVStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLocker enables distributed locking around every update.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(s *Store) {
		s.locker = locker
	}
}

// WithLockTTL sets how long a distributed lock survives a crashed holder.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a RecoveryStore over the given backend.
func New(kv ports.KVStore, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		locks:   make(map[string]*lockEntry),
		lockTTL: defaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying key-value store.
func (s *Store) Backend() ports.KVStore {
	return s.kv
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (s *Store) acquire(key string) *lockEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.locks[key]
	if !exists {
		entry = &lockEntry{}
		s.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (s *Store) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(s.locks, key)
	}
}

// WithLock executes fn while holding the lock for key.
func (s *Store) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := s.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		s.release(key)
	}()

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, key, s.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// Release even if ctx was canceled meanwhile.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"key", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// read decodes key into v. It reports false when the key is absent.
func (s *Store) read(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// update performs a locked read-modify-write of key. Nothing is written when fn fails.
func update[T any](ctx context.Context, s *Store, key string, fn func(*T) error) error {
	return s.WithLock(ctx, key, func(ctx context.Context) error {
		var v T
		if _, err := s.read(ctx, key, &v); err != nil {
			return err
		}
		if err := fn(&v); err != nil {
			return err
		}
		return s.write(ctx, key, v)
	})
}
