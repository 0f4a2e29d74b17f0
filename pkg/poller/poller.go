// Package poller waits, within a bounded time budget, for a result to appear at a result location.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/decoder"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/recovery"
	"github.com/aretw0/relay/pkg/sessionlog"
)

// Status is the terminal state of a poll.
type Status string

const (
	StatusResolved Status = "resolved"
	StatusTimedOut Status = "timed_out"
)

// DedupScope selects which anchor a decoded result is compared against.
type DedupScope string

const (
	// ScopeLocation keeps one anchor per result location.
	ScopeLocation DedupScope = "location"
	// ScopeGlobal keeps a single anchor shared by every location.
	ScopeGlobal DedupScope = "global"
)

// Config bounds a poll.
type Config struct {
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
	MaxWait     time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	SettleDelay time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
	DedupScope  DedupScope    `yaml:"dedup_scope" mapstructure:"dedup_scope"`
}

// DefaultConfig polls every 2s for at most 15s.
func DefaultConfig() Config {
	return Config{
		Interval:   2 * time.Second,
		MaxWait:    15 * time.Second,
		DedupScope: ScopeLocation,
	}
}

// Request identifies what to poll and which session receives the result.
type Request struct {
	CorrelationID string
	Location      domain.Address
	Known         []domain.Message
}

// Result is the outcome of a poll that was not interrupted.
type Result struct {
	Status   Status
	Text     string
	Messages []domain.Message
	Attempts int
}

// Poller is the ResultPoller.
type Poller struct {
	results ports.ResultStore
	store   *recovery.Store
	log     *sessionlog.Log
	cfg     Config
	hooks   domain.Hooks
	logger  *slog.Logger
}

// Option configures the Poller.
type Option func(*Poller)

// WithConfig overrides timing and dedup settings. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(p *Poller) {
		if cfg.Interval > 0 {
			p.cfg.Interval = cfg.Interval
		}
		if cfg.MaxWait > 0 {
			p.cfg.MaxWait = cfg.MaxWait
		}
		if cfg.SettleDelay > 0 {
			p.cfg.SettleDelay = cfg.SettleDelay
		}
		if cfg.DedupScope != "" {
			p.cfg.DedupScope = cfg.DedupScope
		}
	}
}

// WithHooks registers observability hooks.
func WithHooks(h domain.Hooks) Option {
	return func(p *Poller) {
		p.hooks = h
	}
}

// WithLogger configures a logger for the Poller.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// New creates a Poller.
func New(results ports.ResultStore, store *recovery.Store, log *sessionlog.Log, opts ...Option) *Poller {
	p := &Poller{
		results: results,
		store:   store,
		log:     log,
		cfg:     DefaultConfig(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Poll fetches req.Location every Interval until a new result is decoded or MaxWait elapses.
//
// Fetch failures are logged and retried. A timeout is not an error: it persists an
// UnresolvedPoll marker and returns StatusTimedOut. If ctx is canceled the marker is
// persisted as well and ctx.Err() is returned.
func (p *Poller) Poll(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	deadline := start.Add(p.cfg.MaxWait)
	anchor := p.anchor(req.Location)

	last, hasLast, err := p.store.LastResult(ctx, anchor)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read dedup anchor: %w", err)
	}

	p.logger.Debug("Polling for result", "location", req.Location, "correlation_id", req.CorrelationID)

	if p.cfg.SettleDelay > 0 {
		if err := sleep(ctx, p.cfg.SettleDelay); err != nil {
			return Result{}, p.interrupt(ctx, req, err)
		}
	}

	attempt := 0
	for time.Since(start) < p.cfg.MaxWait {
		attempt++
		text, ok, fetchErr := p.fetch(ctx, req.Location, deadline)
		if err := ctx.Err(); err != nil {
			return Result{}, p.interrupt(ctx, req, err)
		}

		duplicate := false
		switch {
		case fetchErr != nil:
			p.logger.Warn("Error fetching result", "location", req.Location, "attempt", attempt, "err", fetchErr)
		case ok && hasLast && text == last:
			duplicate = true
			p.logger.Debug("Duplicate result detected, continuing polling", "location", req.Location)
		case ok:
			return p.resolve(ctx, req, anchor, text, attempt, time.Since(start))
		}

		if p.hooks.OnPollAttempt != nil {
			p.hooks.OnPollAttempt(ctx, p.event(domain.EventPollAttempt, req, attempt, time.Since(start), fetchErr, duplicate))
		}

		if err := sleep(ctx, p.cfg.Interval); err != nil {
			return Result{}, p.interrupt(ctx, req, err)
		}
	}

	return p.timeout(ctx, req, attempt, time.Since(start))
}

func (p *Poller) anchor(location domain.Address) domain.Address {
	if p.cfg.DedupScope == ScopeGlobal {
		return ""
	}
	return location
}

// fetch reads and decodes the location. The call is bounded by the poll deadline.
func (p *Poller) fetch(ctx context.Context, location domain.Address, deadline time.Time) (string, bool, error) {
	fctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	buf, err := p.results.Fetch(fctx, location)
	if errors.Is(err, domain.ErrNoResult) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	text, ok := decoder.Decode(buf)
	return text, ok, nil
}

func (p *Poller) resolve(ctx context.Context, req Request, anchor domain.Address, text string, attempt int, elapsed time.Duration) (Result, error) {
	// The result is already observed; finish recording it even if ctx is canceled now.
	ctx = context.WithoutCancel(ctx)
	msg := domain.Message{
		Role:      domain.RoleProduced,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}

	messages := sessionlog.Truncate(append(append([]domain.Message(nil), req.Known...), msg), p.log.Capacity())
	session, err := p.log.Append(ctx, req.CorrelationID, msg)
	switch {
	case err == nil:
		messages = session.Messages
	case errors.Is(err, domain.ErrSessionNotFound):
		p.logger.Warn("Result resolved for unknown session", "correlation_id", req.CorrelationID, "location", req.Location)
	default:
		return Result{}, fmt.Errorf("failed to persist result: %w", err)
	}

	if err := p.store.SetLastResult(ctx, anchor, text); err != nil {
		return Result{}, fmt.Errorf("failed to update dedup anchor: %w", err)
	}
	if err := p.store.ClearMarker(ctx); err != nil {
		return Result{}, err
	}

	p.logger.Info("Result resolved", "location", req.Location, "correlation_id", req.CorrelationID, "attempts", attempt)
	if p.hooks.OnPollResolved != nil {
		p.hooks.OnPollResolved(ctx, p.event(domain.EventPollResolved, req, attempt, elapsed, nil, false))
	}

	return Result{
		Status:   StatusResolved,
		Text:     text,
		Messages: messages,
		Attempts: attempt,
	}, nil
}

func (p *Poller) timeout(ctx context.Context, req Request, attempt int, elapsed time.Duration) (Result, error) {
	if err := p.mark(ctx, req); err != nil {
		return Result{}, err
	}

	p.logger.Warn("Result not available within budget", "location", req.Location, "max_wait", p.cfg.MaxWait, "attempts", attempt)
	if p.hooks.OnPollTimeout != nil {
		p.hooks.OnPollTimeout(ctx, p.event(domain.EventPollTimeout, req, attempt, elapsed, nil, false))
	}

	return Result{
		Status:   StatusTimedOut,
		Messages: req.Known,
		Attempts: attempt,
	}, nil
}

// interrupt keeps a canceled poll resumable and returns cause.
func (p *Poller) interrupt(ctx context.Context, req Request, cause error) error {
	if err := p.mark(context.WithoutCancel(ctx), req); err != nil {
		p.logger.Error("Failed to persist unresolved poll", "location", req.Location, "err", err)
	}
	return cause
}

func (p *Poller) mark(ctx context.Context, req Request) error {
	err := p.store.SetMarker(ctx, domain.UnresolvedPoll{
		Location:      req.Location,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("failed to persist unresolved poll: %w", err)
	}
	return nil
}

func (p *Poller) event(t domain.EventType, req Request, attempt int, elapsed time.Duration, fetchErr error, dup bool) *domain.PollEvent {
	return &domain.PollEvent{
		EventBase: domain.EventBase{
			Timestamp:     time.Now(),
			Type:          t,
			CorrelationID: req.CorrelationID,
		},
		Location:  req.Location,
		Attempt:   attempt,
		FetchErr:  fetchErr,
		Duplicate: dup,
		Elapsed:   elapsed,
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
