// Package submitter builds, signs and broadcasts user actions.
package submitter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// Submitter is the ActionSubmitter. It never persists anything and never panics:
// every failure comes back as a *domain.RejectedError.
type Submitter struct {
	builder   ports.InstructionBuilder
	transport ports.Transport
	options   domain.TransactionOptions
	hooks     domain.Hooks
	logger    *slog.Logger
}

// Option configures the Submitter.
type Option func(*Submitter)

// WithTransactionOptions overrides the fee token and compute budget.
func WithTransactionOptions(o domain.TransactionOptions) Option {
	return func(s *Submitter) {
		s.options = o
	}
}

// WithHooks registers observability hooks.
func WithHooks(h domain.Hooks) Option {
	return func(s *Submitter) {
		s.hooks = h
	}
}

// WithLogger configures a logger for the Submitter.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// New creates a Submitter.
func New(builder ports.InstructionBuilder, transport ports.Transport, opts ...Option) *Submitter {
	s := &Submitter{
		builder:   builder,
		transport: transport,
		options:   domain.DefaultTransactionOptions(),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit encodes params, then signs and broadcasts the resulting transaction.
// A nil error means the action was durably broadcast.
func (s *Submitter) Submit(ctx context.Context, params domain.ActionParams) (receipt domain.Receipt, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &domain.RejectedError{Reason: fmt.Sprintf("transport panicked: %v", r)}
		}
		s.emit(ctx, params.CorrelationID, receipt, err, time.Since(start))
	}()

	instr, err := s.builder.Build(ctx, params)
	if err != nil {
		return domain.Receipt{}, &domain.RejectedError{Reason: "invalid action: " + err.Error(), Err: err}
	}

	tx := domain.Transaction{
		Instructions: []domain.Instruction{instr},
		Options:      s.options,
	}

	s.logger.Debug("Signing and sending action", "correlation_id", params.CorrelationID, "program", instr.ProgramAddress)
	receipt, err = s.transport.SignAndSend(ctx, tx)
	if err != nil {
		return domain.Receipt{}, &domain.RejectedError{Reason: err.Error(), Err: err}
	}
	return receipt, nil
}

func (s *Submitter) emit(ctx context.Context, correlationID string, receipt domain.Receipt, err error, d time.Duration) {
	ev := &domain.SubmitEvent{
		EventBase: domain.EventBase{
			Timestamp:     time.Now(),
			Type:          domain.EventSubmit,
			CorrelationID: correlationID,
		},
		Signature: receipt.Signature,
		Duration:  d,
	}
	if err != nil {
		ev.Rejected = true
		ev.Reason = err.Error()
		s.logger.Warn("Action rejected", "correlation_id", correlationID, "err", err)
	} else {
		s.logger.Info("Action broadcast", "correlation_id", correlationID, "signature", receipt.Signature)
	}
	if s.hooks.OnSubmit != nil {
		s.hooks.OnSubmit(ctx, ev)
	}
}
