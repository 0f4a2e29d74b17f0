package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSubmit       EventType = "submit"
	EventPollAttempt  EventType = "poll_attempt"
	EventPollResolved EventType = "poll_resolved"
	EventPollTimeout  EventType = "poll_timeout"
	EventDrain        EventType = "drain"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// SubmitEvent is emitted after every submission attempt.
type SubmitEvent struct {
	EventBase
	Signature string        `json:"signature,omitempty"`
	Rejected  bool          `json:"rejected,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// PollEvent is emitted for each fetch and once when the poll ends.
type PollEvent struct {
	EventBase
	Location  Address       `json:"location"`
	Attempt   int           `json:"attempt"`
	FetchErr  error         `json:"-"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// DrainEvent summarises one pending-queue drain pass.
type DrainEvent struct {
	EventBase
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Hooks defines callbacks for observability. Nil callbacks are skipped.
type Hooks struct {
	OnSubmit       func(context.Context, *SubmitEvent)
	OnPollAttempt  func(context.Context, *PollEvent)
	OnPollResolved func(context.Context, *PollEvent)
	OnPollTimeout  func(context.Context, *PollEvent)
	OnDrain        func(context.Context, *DrainEvent)
}

// Merge returns hooks that invoke h first and then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnSubmit:       chain(h.OnSubmit, other.OnSubmit),
		OnPollAttempt:  chain(h.OnPollAttempt, other.OnPollAttempt),
		OnPollResolved: chain(h.OnPollResolved, other.OnPollResolved),
		OnPollTimeout:  chain(h.OnPollTimeout, other.OnPollTimeout),
		OnDrain:        chain(h.OnDrain, other.OnDrain),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
