package poller_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/poller"
	"github.com/aretw0/relay/pkg/recovery"
	"github.com/aretw0/relay/pkg/sessionlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const location domain.Address = "resp-1"

// fast scales the production cadence down by 100x.
var fast = poller.Config{
	Interval: 20 * time.Millisecond,
	MaxWait:  150 * time.Millisecond,
}

type fixture struct {
	ledger *memory.Ledger
	store  *recovery.Store
	log    *sessionlog.Log
}

func newFixture(t *testing.T, ledgerOpts ...memory.LedgerOption) *fixture {
	t.Helper()
	store := recovery.New(memory.NewStore())
	f := &fixture{
		ledger: memory.NewLedger(ledgerOpts...),
		store:  store,
		log:    sessionlog.New(store),
	}
	require.NoError(t, f.log.Create(context.Background(), domain.Session{CorrelationID: "ctxA", ResultLocation: location}))
	return f
}

func (f *fixture) poller(opts ...poller.Option) *poller.Poller {
	return poller.New(f.ledger, f.store, f.log, append([]poller.Option{poller.WithConfig(fast)}, opts...)...)
}

func request() poller.Request {
	return poller.Request{CorrelationID: "ctxA", Location: location}
}

func TestDefaultConfig(t *testing.T) {
	cfg := poller.DefaultConfig()
	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, 15*time.Second, cfg.MaxWait)
	assert.Equal(t, poller.ScopeLocation, cfg.DedupScope)
}

func TestPoll_ResolvesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Write(location, "  hello  ")

	res, err := f.poller().Poll(ctx, request())
	require.NoError(t, err)

	assert.Equal(t, poller.StatusResolved, res.Status)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, 1, res.Attempts)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, domain.RoleProduced, res.Messages[0].Role)

	s, err := f.log.Get(ctx, "ctxA")
	require.NoError(t, err)
	assert.Equal(t, res.Messages, s.Messages)

	last, ok, err := f.store.LastResult(ctx, location)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", last)
}

func TestPoll_ResultArrivesLate(t *testing.T) {
	// Same shape as a result appearing after 13s of a 15s budget.
	f := newFixture(t)
	cfg := poller.Config{Interval: 10 * time.Millisecond, MaxWait: 300 * time.Millisecond}
	time.AfterFunc(260*time.Millisecond, func() { f.ledger.Write(location, "hello") })

	res, err := f.poller(poller.WithConfig(cfg)).Poll(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, poller.StatusResolved, res.Status)
	assert.Equal(t, "hello", res.Text)
	assert.Greater(t, res.Attempts, 1)
}

func TestPoll_TimesOutAndLeavesMarker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var timeouts int
	p := f.poller(poller.WithHooks(domain.Hooks{
		OnPollTimeout: func(context.Context, *domain.PollEvent) { timeouts++ },
	}))

	start := time.Now()
	res, err := p.Poll(ctx, request())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, poller.StatusTimedOut, res.Status)
	assert.Equal(t, 1, timeouts)
	assert.GreaterOrEqual(t, elapsed, fast.MaxWait)
	assert.Less(t, elapsed, fast.MaxWait+fast.Interval+100*time.Millisecond)

	marker, err := f.store.Marker(ctx)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, location, marker.Location)
	assert.Equal(t, "ctxA", marker.CorrelationID)

	s, err := f.log.Get(ctx, "ctxA")
	require.NoError(t, err)
	assert.Empty(t, s.Messages)
}

func TestPoll_DuplicateIsNotNew(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Write(location, "hello")
	p := f.poller()

	first, err := p.Poll(ctx, request())
	require.NoError(t, err)
	require.Equal(t, poller.StatusResolved, first.Status)

	var duplicates int
	p = f.poller(poller.WithHooks(domain.Hooks{
		OnPollAttempt: func(_ context.Context, e *domain.PollEvent) {
			if e.Duplicate {
				duplicates++
			}
		},
	}))
	second, err := p.Poll(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, poller.StatusTimedOut, second.Status)
	assert.Positive(t, duplicates)

	s, err := f.log.Get(ctx, "ctxA")
	require.NoError(t, err)
	assert.Len(t, s.Messages, 1, "a repeated buffer must not be appended twice")
}

func TestPoll_DedupScope(t *testing.T) {
	ctx := context.Background()
	other := domain.Address("resp-2")

	t.Run("per location", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.SetLastResult(ctx, other, "hello"))
		f.ledger.Write(location, "hello")

		res, err := f.poller().Poll(ctx, request())
		require.NoError(t, err)
		assert.Equal(t, poller.StatusResolved, res.Status)
	})

	t.Run("global", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.SetLastResult(ctx, "", "hello"))
		f.ledger.Write(location, "hello")

		cfg := fast
		cfg.DedupScope = poller.ScopeGlobal
		res, err := f.poller(poller.WithConfig(cfg)).Poll(ctx, request())
		require.NoError(t, err)
		assert.Equal(t, poller.StatusTimedOut, res.Status)
	})
}

func TestPoll_FetchErrorsAreAbsorbed(t *testing.T) {
	f := newFixture(t, memory.WithFetchFailure(func(attempt int) error {
		if attempt < 3 {
			return errors.New("rpc unavailable")
		}
		return nil
	}))
	f.ledger.Write(location, "hello")

	var failed int
	res, err := f.poller(poller.WithHooks(domain.Hooks{
		OnPollAttempt: func(_ context.Context, e *domain.PollEvent) {
			if e.FetchErr != nil {
				failed++
			}
		},
	})).Poll(context.Background(), request())

	require.NoError(t, err)
	assert.Equal(t, poller.StatusResolved, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, failed)
}

func TestPoll_UndecodableBufferKeepsPolling(t *testing.T) {
	f := newFixture(t)
	f.ledger.Put(location, make([]byte, 8))

	res, err := f.poller().Poll(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, poller.StatusTimedOut, res.Status)
	assert.Greater(t, f.ledger.Fetches(), 1)
}

// blockingStore never answers until the fetch context ends.
type blockingStore struct{}

func (blockingStore) Fetch(ctx context.Context, _ domain.Address) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPoll_HangingFetchStillTerminates(t *testing.T) {
	store := recovery.New(memory.NewStore())
	p := poller.New(blockingStore{}, store, sessionlog.New(store), poller.WithConfig(fast))

	start := time.Now()
	res, err := p.Poll(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, poller.StatusTimedOut, res.Status)
	assert.Less(t, time.Since(start), fast.MaxWait+fast.Interval+100*time.Millisecond)
}

func TestPoll_CancelPersistsMarker(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := f.poller().Poll(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)

	marker, err := f.store.Marker(context.Background())
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, location, marker.Location)
}

func TestPoll_ResolveClearsMarker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SetMarker(ctx, domain.UnresolvedPoll{Location: location, CorrelationID: "ctxA"}))
	f.ledger.Write(location, "late answer")

	res, err := f.poller().Poll(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, poller.StatusResolved, res.Status)

	marker, err := f.store.Marker(ctx)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func TestPoll_UnknownSessionStillResolves(t *testing.T) {
	f := newFixture(t)
	f.ledger.Write(location, "hello")

	known := []domain.Message{{Role: domain.RoleSubmitted, Text: "gm"}}
	res, err := f.poller().Poll(context.Background(), poller.Request{
		CorrelationID: "gone",
		Location:      location,
		Known:         known,
	})
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "gm", res.Messages[0].Text)
	assert.Equal(t, "hello", res.Messages[1].Text)
}

func TestPoll_SettleDelay(t *testing.T) {
	f := newFixture(t)
	f.ledger.Write(location, "hello")
	cfg := fast
	cfg.SettleDelay = 40 * time.Millisecond

	start := time.Now()
	res, err := f.poller(poller.WithConfig(cfg)).Poll(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, poller.StatusResolved, res.Status)
	assert.GreaterOrEqual(t, time.Since(start), cfg.SettleDelay)
}
