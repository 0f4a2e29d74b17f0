package observability

import (
	"context"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay collectors.
type Metrics struct {
	Submissions  *prometheus.CounterVec
	SubmitTime   prometheus.Histogram
	PollAttempts *prometheus.CounterVec
	Polls        *prometheus.CounterVec
	PollTime     prometheus.Histogram
	Drained      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_submissions_total",
				Help: "Submission attempts by outcome",
			},
			[]string{"outcome"},
		),
		SubmitTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_submit_duration_seconds",
				Help:    "Time spent signing and broadcasting",
				Buckets: prometheus.DefBuckets,
			},
		),
		PollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_poll_attempts_total",
				Help: "Result fetches that did not resolve a poll",
			},
			[]string{"reason"},
		),
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_polls_total",
				Help: "Finished polls by outcome",
			},
			[]string{"outcome"},
		),
		PollTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_poll_duration_seconds",
				Help:    "Time until a poll resolved or timed out",
				Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 12, 15, 20},
			},
		),
		Drained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_queue_entries_total",
				Help: "Pending queue entries handled by drains",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.Submissions, m.SubmitTime, m.PollAttempts, m.Polls, m.PollTime, m.Drained)
	return m
}

// Hooks records every lifecycle event in m.
func (m *Metrics) Hooks() domain.Hooks {
	return domain.Hooks{
		OnSubmit: func(_ context.Context, e *domain.SubmitEvent) {
			outcome := "sent"
			if e.Rejected {
				outcome = "rejected"
			}
			m.Submissions.WithLabelValues(outcome).Inc()
			m.SubmitTime.Observe(e.Duration.Seconds())
		},
		OnPollAttempt: func(_ context.Context, e *domain.PollEvent) {
			reason := "empty"
			switch {
			case e.FetchErr != nil:
				reason = "error"
			case e.Duplicate:
				reason = "duplicate"
			}
			m.PollAttempts.WithLabelValues(reason).Inc()
		},
		OnPollResolved: func(_ context.Context, e *domain.PollEvent) {
			m.Polls.WithLabelValues("resolved").Inc()
			m.PollTime.Observe(e.Elapsed.Seconds())
		},
		OnPollTimeout: func(_ context.Context, e *domain.PollEvent) {
			m.Polls.WithLabelValues("timed_out").Inc()
			m.PollTime.Observe(e.Elapsed.Seconds())
		},
		OnDrain: func(_ context.Context, e *domain.DrainEvent) {
			m.Drained.WithLabelValues("processed").Add(float64(e.Processed))
			m.Drained.WithLabelValues("failed").Add(float64(e.Failed))
		},
	}
}
