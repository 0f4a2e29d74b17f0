package domain_test

import (
	"context"
	"testing"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestHooks_Merge(t *testing.T) {
	var calls []string
	a := domain.Hooks{
		OnSubmit: func(context.Context, *domain.SubmitEvent) { calls = append(calls, "a") },
	}
	b := domain.Hooks{
		OnSubmit:      func(context.Context, *domain.SubmitEvent) { calls = append(calls, "b") },
		OnPollTimeout: func(context.Context, *domain.PollEvent) { calls = append(calls, "timeout") },
	}

	merged := a.Merge(b)
	merged.OnSubmit(context.Background(), &domain.SubmitEvent{})
	merged.OnPollTimeout(context.Background(), &domain.PollEvent{})

	assert.Equal(t, []string{"a", "b", "timeout"}, calls)
	assert.Nil(t, merged.OnDrain)
}

func TestSession_CloneIsolatesMessages(t *testing.T) {
	s := &domain.Session{
		CorrelationID: "ctxA",
		Messages:      []domain.Message{{Role: domain.RoleSubmitted, Text: "gm"}},
	}
	c := s.Clone()
	c.Messages[0].Text = "changed"
	c.Messages = append(c.Messages, domain.Message{Role: domain.RoleProduced, Text: "hello"})

	assert.Equal(t, "gm", s.Messages[0].Text)
	assert.Len(t, s.Messages, 1)
}

func TestRejectedError(t *testing.T) {
	var err error = &domain.RejectedError{Reason: "user cancelled"}
	assert.True(t, domain.IsRejected(err))
	assert.EqualError(t, err, "action rejected: user cancelled")
	assert.False(t, domain.IsRejected(domain.ErrNoResult))
}
