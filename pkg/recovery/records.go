package recovery

import (
	"context"
	"fmt"

	"github.com/aretw0/relay/pkg/domain"
)

// Sessions returns every persisted session in creation order.
func (s *Store) Sessions(ctx context.Context) ([]domain.Session, error) {
	var sessions []domain.Session
	if _, err := s.read(ctx, KeySessions, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Session returns the session for correlationID.
// Returns domain.ErrSessionNotFound if it was never created.
func (s *Store) Session(ctx context.Context, correlationID string) (*domain.Session, error) {
	sessions, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].CorrelationID == correlationID {
			return &sessions[i], nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

// PutSession inserts or replaces a session, keyed by its correlation id.
func (s *Store) PutSession(ctx context.Context, session domain.Session) error {
	if session.CorrelationID == "" {
		return fmt.Errorf("correlation id cannot be empty")
	}
	return update(ctx, s, KeySessions, func(sessions *[]domain.Session) error {
		for i := range *sessions {
			if (*sessions)[i].CorrelationID == session.CorrelationID {
				(*sessions)[i] = session
				return nil
			}
		}
		*sessions = append(*sessions, session)
		return nil
	})
}

// UpdateSession applies fn to the stored session and persists the result atomically.
func (s *Store) UpdateSession(ctx context.Context, correlationID string, fn func(*domain.Session) error) (*domain.Session, error) {
	var updated *domain.Session
	err := update(ctx, s, KeySessions, func(sessions *[]domain.Session) error {
		for i := range *sessions {
			if (*sessions)[i].CorrelationID != correlationID {
				continue
			}
			if err := fn(&(*sessions)[i]); err != nil {
				return err
			}
			updated = (*sessions)[i].Clone()
			return nil
		}
		return domain.ErrSessionNotFound
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Pending returns the queued action texts in FIFO order.
func (s *Store) Pending(ctx context.Context) ([]string, error) {
	var pending []string
	if _, err := s.read(ctx, KeyPending, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// Enqueue appends text to the pending queue.
func (s *Store) Enqueue(ctx context.Context, text string) error {
	return update(ctx, s, KeyPending, func(pending *[]string) error {
		*pending = append(*pending, text)
		return nil
	})
}

// RemovePending removes one occurrence of each entry in done, oldest first, and returns what remains.
// Entries enqueued after done was computed are kept.
func (s *Store) RemovePending(ctx context.Context, done []string) ([]string, error) {
	var remaining []string
	err := update(ctx, s, KeyPending, func(pending *[]string) error {
		counts := make(map[string]int, len(done))
		for _, d := range done {
			counts[d]++
		}
		kept := make([]string, 0, len(*pending))
		for _, p := range *pending {
			if counts[p] > 0 {
				counts[p]--
				continue
			}
			kept = append(kept, p)
		}
		*pending = kept
		remaining = append([]string(nil), kept...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return remaining, nil
}

// Marker returns the unresolved poll marker, or nil when there is none.
func (s *Store) Marker(ctx context.Context) (*domain.UnresolvedPoll, error) {
	var marker domain.UnresolvedPoll
	ok, err := s.read(ctx, KeyUnresolved, &marker)
	if err != nil || !ok || marker.Location == "" {
		return nil, err
	}
	return &marker, nil
}

// SetMarker records marker as the single unresolved poll, replacing any previous one.
func (s *Store) SetMarker(ctx context.Context, marker domain.UnresolvedPoll) error {
	return s.WithLock(ctx, KeyUnresolved, func(ctx context.Context) error {
		return s.write(ctx, KeyUnresolved, marker)
	})
}

// ClearMarker removes the unresolved poll marker.
func (s *Store) ClearMarker(ctx context.Context) error {
	return s.WithLock(ctx, KeyUnresolved, func(ctx context.Context) error {
		if err := s.kv.Delete(ctx, KeyUnresolved); err != nil {
			return fmt.Errorf("failed to clear unresolved poll: %w", err)
		}
		return nil
	})
}

func anchorKey(location domain.Address) string {
	if location == "" {
		return KeyLastResult
	}
	return KeyLastResult + ":" + location.String()
}

// LastResult returns the dedup anchor for location. An empty location selects the global anchor.
func (s *Store) LastResult(ctx context.Context, location domain.Address) (string, bool, error) {
	var text string
	ok, err := s.read(ctx, anchorKey(location), &text)
	return text, ok, err
}

// SetLastResult records text as the dedup anchor for location.
func (s *Store) SetLastResult(ctx context.Context, location domain.Address, text string) error {
	key := anchorKey(location)
	return s.WithLock(ctx, key, func(ctx context.Context) error {
		return s.write(ctx, key, text)
	})
}

// NextSeed reserves and returns the next session seed.
// Returns domain.ErrSeedExhausted, without consuming anything, once the counter exceeds limit.
func (s *Store) NextSeed(ctx context.Context, limit int) (int, error) {
	var seed int
	err := update(ctx, s, KeySeed, func(counter *int) error {
		if *counter > limit {
			return domain.ErrSeedExhausted
		}
		seed = *counter
		*counter++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return seed, nil
}
