package sessionlog_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/recovery"
	"github.com/aretw0/relay/pkg/sessionlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLog(t *testing.T, opts ...sessionlog.Option) *sessionlog.Log {
	t.Helper()
	return sessionlog.New(recovery.New(memory.NewStore()), opts...)
}

func TestLog_GetMissing(t *testing.T) {
	_, err := newLog(t).Get(context.Background(), "ctxA")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestLog_CreateAndAppend(t *testing.T) {
	ctx := context.Background()
	log := newLog(t)

	require.NoError(t, log.Create(ctx, domain.Session{CorrelationID: "ctxA", Seed: 0, Title: "gm"}))

	s, err := log.Get(ctx, "ctxA")
	require.NoError(t, err)
	assert.NotNil(t, s.Messages)
	assert.Empty(t, s.Messages)

	_, err = log.Append(ctx, "ctxA", domain.Message{Role: domain.RoleSubmitted, Text: "gm", Timestamp: 1})
	require.NoError(t, err)
	s, err = log.Append(ctx, "ctxA", domain.Message{Role: domain.RoleProduced, Text: "hello", Timestamp: 2})
	require.NoError(t, err)

	require.Len(t, s.Messages, 2)
	assert.Equal(t, domain.RoleSubmitted, s.Messages[0].Role)
	assert.Equal(t, "hello", s.Messages[1].Text)
}

func TestLog_AppendMissingSession(t *testing.T) {
	_, err := newLog(t).Append(context.Background(), "nope", domain.Message{Text: "x"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestLog_RetainsMostRecent(t *testing.T) {
	ctx := context.Background()
	log := newLog(t)

	for _, n := range []int{1, 14, 15, 16, 40} {
		t.Run(fmt.Sprintf("%d appends", n), func(t *testing.T) {
			id := fmt.Sprintf("ctx-%d", n)
			require.NoError(t, log.Create(ctx, domain.Session{CorrelationID: id}))

			var s *domain.Session
			var err error
			for i := 0; i < n; i++ {
				s, err = log.Append(ctx, id, domain.Message{Role: domain.RoleSubmitted, Text: fmt.Sprint(i), Timestamp: int64(i)})
				require.NoError(t, err)
			}

			assert.LessOrEqual(t, len(s.Messages), sessionlog.DefaultCapacity)
			start := 0
			if n > sessionlog.DefaultCapacity {
				start = n - sessionlog.DefaultCapacity
			}
			for i, m := range s.Messages {
				assert.Equal(t, fmt.Sprint(start+i), m.Text)
			}

			stored, err := log.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, s.Messages, stored.Messages)
		})
	}
}

func TestLog_CustomCapacity(t *testing.T) {
	ctx := context.Background()
	log := newLog(t, sessionlog.WithCapacity(2))
	assert.Equal(t, 2, log.Capacity())

	require.NoError(t, log.Create(ctx, domain.Session{
		CorrelationID: "ctxA",
		Messages:      []domain.Message{{Text: "a"}, {Text: "b"}, {Text: "c"}},
	}))
	s, err := log.Get(ctx, "ctxA")
	require.NoError(t, err)
	assert.Equal(t, []domain.Message{{Text: "b"}, {Text: "c"}}, s.Messages)
}
