// Package queue drains the durable pending-action queue under a single-flight guard.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/recovery"
)

// State of the processor.
type State int32

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reasons a trigger does not start a drain.
const (
	SkipDraining = "already draining"
	SkipEmpty    = "queue empty"
	SkipNotReady = "prerequisites not ready"
)

// Pipeline runs one queued action end to end.
// A nil error means the action was submitted; a poll that timed out still counts as submitted.
type Pipeline interface {
	Process(ctx context.Context, correlationID, text string) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, correlationID, text string) error

// Process implements Pipeline.
func (f PipelineFunc) Process(ctx context.Context, correlationID, text string) error {
	return f(ctx, correlationID, text)
}

// Failure is a queued action that could not be submitted.
type Failure struct {
	Text string
	Err  error
}

// Report describes the outcome of a Trigger.
type Report struct {
	// Skipped is non-empty when no drain happened.
	Skipped string
	// Cause is the prerequisite error behind SkipNotReady.
	Cause     error
	Processed []string
	Failed    []Failure
	Remaining []string
}

// Processor is the PendingQueueProcessor.
type Processor struct {
	store    *recovery.Store
	pipeline Pipeline
	ready    ports.Prerequisite
	state    atomic.Int32
	hooks    domain.Hooks
	logger   *slog.Logger
}

// Option configures the Processor.
type Option func(*Processor)

// WithPrerequisite gates draining on ready.
func WithPrerequisite(ready ports.Prerequisite) Option {
	return func(p *Processor) {
		p.ready = ready
	}
}

// WithHooks registers observability hooks.
func WithHooks(h domain.Hooks) Option {
	return func(p *Processor) {
		p.hooks = h
	}
}

// WithLogger configures a logger for the Processor.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// New creates an idle Processor.
func New(store *recovery.Store, pipeline Pipeline, opts ...Option) *Processor {
	p := &Processor{
		store:    store,
		pipeline: pipeline,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

// Trigger drains a snapshot of the queue into correlationID's session.
//
// It is a no-op, reported through Report.Skipped, while another drain runs, when the queue is
// empty or when the prerequisite is not met. Entries are processed one at a time in FIFO order.
// Only submitted entries are removed; entries enqueued meanwhile are kept.
func (p *Processor) Trigger(ctx context.Context, correlationID string) (Report, error) {
	if p.State() == StateDraining {
		return Report{Skipped: SkipDraining}, nil
	}
	if p.ready != nil {
		if err := p.ready.Ready(ctx); err != nil {
			return Report{Skipped: SkipNotReady, Cause: err}, nil
		}
	}
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		return Report{Skipped: SkipDraining}, nil
	}
	defer p.state.Store(int32(StateIdle))

	snapshot, err := p.store.Pending(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read pending queue: %w", err)
	}
	if len(snapshot) == 0 {
		return Report{Skipped: SkipEmpty}, nil
	}

	p.logger.Info("Draining pending queue", "correlation_id", correlationID, "entries", len(snapshot))

	var report Report
	for _, text := range snapshot {
		if ctx.Err() != nil {
			break
		}
		if err := p.pipeline.Process(ctx, correlationID, text); err != nil {
			p.logger.Warn("Queued action failed", "correlation_id", correlationID, "err", err)
			report.Failed = append(report.Failed, Failure{Text: text, Err: err})
			continue
		}
		report.Processed = append(report.Processed, text)
	}

	// Removal must land even if the drain was interrupted, or submitted actions would be resent.
	remaining, err := p.store.RemovePending(context.WithoutCancel(ctx), report.Processed)
	if err != nil {
		return report, fmt.Errorf("failed to update pending queue: %w", err)
	}
	report.Remaining = remaining

	if p.hooks.OnDrain != nil {
		p.hooks.OnDrain(ctx, &domain.DrainEvent{
			EventBase: domain.EventBase{
				Timestamp:     time.Now(),
				Type:          domain.EventDrain,
				CorrelationID: correlationID,
			},
			Processed: len(report.Processed),
			Failed:    len(report.Failed),
			Remaining: len(remaining),
		})
	}

	return report, ctx.Err()
}
