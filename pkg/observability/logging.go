package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/relay/pkg/domain"
)

// LogHooks writes one structured line per lifecycle event. Fetch attempts log at debug level.
func LogHooks(logger *slog.Logger) domain.Hooks {
	return domain.Hooks{
		OnSubmit: func(ctx context.Context, e *domain.SubmitEvent) {
			if e.Rejected {
				logger.WarnContext(ctx, "submit_rejected", "correlation_id", e.CorrelationID, "reason", e.Reason)
				return
			}
			logger.InfoContext(ctx, "submit", "correlation_id", e.CorrelationID, "signature", e.Signature, "duration", e.Duration)
		},
		OnPollAttempt: func(ctx context.Context, e *domain.PollEvent) {
			logger.DebugContext(ctx, "poll_attempt", "location", e.Location, "attempt", e.Attempt, "duplicate", e.Duplicate, "err", e.FetchErr)
		},
		OnPollResolved: func(ctx context.Context, e *domain.PollEvent) {
			logger.InfoContext(ctx, "poll_resolved", "correlation_id", e.CorrelationID, "location", e.Location, "elapsed", e.Elapsed)
		},
		OnPollTimeout: func(ctx context.Context, e *domain.PollEvent) {
			logger.WarnContext(ctx, "poll_timeout", "correlation_id", e.CorrelationID, "location", e.Location, "attempts", e.Attempt)
		},
		OnDrain: func(ctx context.Context, e *domain.DrainEvent) {
			logger.InfoContext(ctx, "drain", "processed", e.Processed, "failed", e.Failed, "remaining", e.Remaining)
		},
	}
}
