// Package sessionlog keeps the append-only, capped message history of each session.
package sessionlog

import (
	"context"
	"fmt"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/recovery"
)

// DefaultCapacity is how many messages a session retains.
const DefaultCapacity = 15

// Log reads and appends session histories through the RecoveryStore.
type Log struct {
	store    *recovery.Store
	capacity int
}

// Option configures the Log.
type Option func(*Log)

// WithCapacity overrides how many messages are retained per session.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// New creates a session log persisting through store.
func New(store *recovery.Store, opts ...Option) *Log {
	l := &Log{store: store, capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Capacity returns the retention cap.
func (l *Log) Capacity() int {
	return l.capacity
}

// Create persists a new session. Its history is truncated like any append.
func (l *Log) Create(ctx context.Context, session domain.Session) error {
	session.Messages = Truncate(session.Messages, l.capacity)
	if session.Messages == nil {
		session.Messages = []domain.Message{}
	}
	if err := l.store.PutSession(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Append adds msg to the end of the session history, dropping the oldest entries beyond capacity.
func (l *Log) Append(ctx context.Context, correlationID string, msg domain.Message) (*domain.Session, error) {
	return l.store.UpdateSession(ctx, correlationID, func(s *domain.Session) error {
		s.Messages = Truncate(append(s.Messages, msg), l.capacity)
		return nil
	})
}

// Get returns the session. Returns domain.ErrSessionNotFound when it does not exist yet.
func (l *Log) Get(ctx context.Context, correlationID string) (*domain.Session, error) {
	return l.store.Session(ctx, correlationID)
}

// List returns every known session.
func (l *Log) List(ctx context.Context) ([]domain.Session, error) {
	return l.store.Sessions(ctx)
}

// Truncate returns the last n messages of msgs, preserving order.
func Truncate(msgs []domain.Message, n int) []domain.Message {
	if len(msgs) <= n {
		return msgs
	}
	return append([]domain.Message(nil), msgs[len(msgs)-n:]...)
}
