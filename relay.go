package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/derive"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/instruction"
	"github.com/aretw0/relay/pkg/poller"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/queue"
	"github.com/aretw0/relay/pkg/recovery"
	"github.com/aretw0/relay/pkg/sessionlog"
	"github.com/aretw0/relay/pkg/submitter"
)

// Version is the relay release. Overridden at build time with -ldflags.
var Version = "0.3.0"

// DefaultProgram namespaces derived addresses when no program is configured.
const DefaultProgram domain.Address = "relay"

// Status reports how an operation ended.
type Status string

const (
	// StatusResolved means a new result was appended to the session.
	StatusResolved Status = "resolved"
	// StatusTimedOut means the action was submitted but its result is still pending.
	// It can be picked up later with Recover.
	StatusTimedOut Status = "timed_out"
	// StatusQueued means the action was stored in the pending queue.
	StatusQueued Status = "queued"
	// StatusNothingPending means there was no unresolved poll to recover.
	StatusNothingPending Status = "nothing_pending"
)

// Outcome is the result of Send and Recover.
type Outcome struct {
	Status        Status           `json:"status"`
	CorrelationID string           `json:"correlation_id"`
	Signature     string           `json:"signature,omitempty"`
	Text          string           `json:"text,omitempty"`
	Messages      []domain.Message `json:"messages,omitempty"`
}

// Client is the high-level entry point for the relay library.
// It wires the submitter, poller, session log and pending queue over one RecoveryStore.
type Client struct {
	store     *recovery.Store
	log       *sessionlog.Log
	submitter *submitter.Submitter
	poller    *poller.Poller
	queue     *queue.Processor
	scheme    derive.Scheme
	identity  ports.IdentityProvider

	kv        ports.KVStore
	locker    ports.DistributedLocker
	transport ports.Transport
	results   ports.ResultStore
	builder   ports.InstructionBuilder
	deriver   ports.AddressDeriver
	program   domain.Address
	policy    derive.Policy
	pollCfg   poller.Config
	txOpts    domain.TransactionOptions
	capacity  int
	hooks     domain.Hooks
	logger    *slog.Logger

	flights inflight
}

// inflight admits one submit-and-poll pipeline per key at a time.
type inflight struct {
	mu    sync.Mutex
	slots map[domain.Address]chan struct{}
}

// acquire blocks until key is free or ctx is done. The returned func releases the key.
func (f *inflight) acquire(ctx context.Context, key domain.Address) (func(), error) {
	f.mu.Lock()
	if f.slots == nil {
		f.slots = make(map[domain.Address]chan struct{})
	}
	slot, ok := f.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		f.slots[key] = slot
	}
	f.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Option defines a functional option for configuring the Client.
type Option func(*Client)

// WithStore sets the key-value backend for durable state (default: in-memory).
func WithStore(kv ports.KVStore) Option {
	return func(c *Client) {
		c.kv = kv
	}
}

// WithLocker enables distributed locking of store updates.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *Client) {
		c.locker = locker
	}
}

// WithTransport sets the signer used to broadcast actions. Required.
func WithTransport(t ports.Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithResultStore sets where results are fetched from. Required.
func WithResultStore(r ports.ResultStore) Option {
	return func(c *Client) {
		c.results = r
	}
}

// WithLedger uses a simulated ledger as both transport and result store.
func WithLedger(l *memory.Ledger) Option {
	return func(c *Client) {
		c.transport = l
		c.results = l
	}
}

// WithInstructionBuilder overrides the default JSON instruction builder.
func WithInstructionBuilder(b ports.InstructionBuilder) Option {
	return func(c *Client) {
		c.builder = b
	}
}

// WithAddressDeriver overrides the default sha256/base58 deriver.
func WithAddressDeriver(d ports.AddressDeriver) Option {
	return func(c *Client) {
		c.deriver = d
	}
}

// WithProgram sets the program address that namespaces derived addresses and instructions.
func WithProgram(program domain.Address) Option {
	return func(c *Client) {
		c.program = program
	}
}

// WithIdentity sets the provider of the submitter identity.
func WithIdentity(p ports.IdentityProvider) Option {
	return func(c *Client) {
		c.identity = p
	}
}

// WithPolicy selects how result locations are derived.
func WithPolicy(p derive.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithPollConfig overrides the poll cadence, budget and dedup scope.
func WithPollConfig(cfg poller.Config) Option {
	return func(c *Client) {
		c.pollCfg = cfg
	}
}

// WithTransactionOptions overrides the fee token and compute budget.
func WithTransactionOptions(o domain.TransactionOptions) Option {
	return func(c *Client) {
		c.txOpts = o
	}
}

// WithHistoryCapacity sets how many messages each session keeps.
func WithHistoryCapacity(n int) Option {
	return func(c *Client) {
		c.capacity = n
	}
}

// WithHooks registers observability hooks.
func WithHooks(h domain.Hooks) Option {
	return func(c *Client) {
		c.hooks = h
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New initializes a Client. A transport and a result store are required.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		program:  DefaultProgram,
		policy:   derive.PolicyPerIdentity,
		pollCfg:  poller.DefaultConfig(),
		txOpts:   domain.DefaultTransactionOptions(),
		capacity: sessionlog.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if c.results == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.kv == nil {
		c.kv = memory.NewStore()
	}
	if c.identity == nil {
		c.identity = ports.StaticIdentity("")
	}
	if c.deriver == nil {
		c.deriver = derive.New(c.program)
	}
	if c.builder == nil {
		c.builder = instruction.NewJSONBuilder(c.program)
	}

	storeOpts := []recovery.Option{recovery.WithLogger(c.logger)}
	if c.locker != nil {
		storeOpts = append(storeOpts, recovery.WithLocker(c.locker))
	}
	c.store = recovery.New(c.kv, storeOpts...)
	c.log = sessionlog.New(c.store, sessionlog.WithCapacity(c.capacity))
	c.scheme = derive.Scheme{Deriver: c.deriver, Policy: c.policy}
	c.submitter = submitter.New(c.builder, c.transport,
		submitter.WithTransactionOptions(c.txOpts),
		submitter.WithHooks(c.hooks),
		submitter.WithLogger(c.logger),
	)
	c.poller = poller.New(c.results, c.store, c.log,
		poller.WithConfig(c.pollCfg),
		poller.WithHooks(c.hooks),
		poller.WithLogger(c.logger),
	)
	c.queue = queue.New(c.store, queue.PipelineFunc(c.drainOne),
		queue.WithPrerequisite(ports.IdentityPrerequisite{Provider: c.identity}),
		queue.WithHooks(c.hooks),
		queue.WithLogger(c.logger),
	)

	return c, nil
}

// Store returns the RecoveryStore backing the client.
func (c *Client) Store() *recovery.Store {
	return c.store
}

// QueueState reports whether the pending queue is being drained.
func (c *Client) QueueState() queue.State {
	return c.queue.State()
}

// StartSession creates a session for the connected identity using the next device seed.
func (c *Client) StartSession(ctx context.Context, title string) (*domain.Session, error) {
	identity, ok := c.identity.Identity(ctx)
	if !ok {
		return nil, domain.ErrIdentityUnavailable
	}

	seed, err := c.store.NextSeed(ctx, derive.MaxSeed)
	if err != nil {
		return nil, err
	}
	correlationID, err := c.scheme.CorrelationID(identity, seed)
	if err != nil {
		return nil, err
	}
	location, err := c.scheme.ResultLocation(identity, correlationID)
	if err != nil {
		return nil, err
	}

	session := domain.Session{
		CorrelationID:  correlationID,
		Seed:           seed,
		ResultLocation: location,
		Title:          strings.TrimSpace(title),
		Messages:       []domain.Message{},
	}
	if err := c.log.Create(ctx, session); err != nil {
		return nil, err
	}

	c.logger.Info("Session started", "correlation_id", correlationID, "seed", seed, "location", location)
	return &session, nil
}

// Session returns a session by correlation id.
func (c *Client) Session(ctx context.Context, correlationID string) (*domain.Session, error) {
	return c.log.Get(ctx, correlationID)
}

// Sessions lists every known session.
func (c *Client) Sessions(ctx context.Context) ([]domain.Session, error) {
	return c.log.List(ctx)
}

// Send submits text in the session and waits for its result.
//
// Without a connected identity the text is queued and StatusQueued is returned. When the
// transport rejects the action the text is queued as well and a *domain.RejectedError is
// returned. A poll that runs out of budget is reported as StatusTimedOut, not as an error.
func (c *Client) Send(ctx context.Context, correlationID, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{}, domain.ErrEmptyAction
	}
	session, err := c.log.Get(ctx, correlationID)
	if err != nil {
		return Outcome{}, err
	}

	identity, ok := c.identity.Identity(ctx)
	if !ok {
		if err := c.store.Enqueue(ctx, text); err != nil {
			return Outcome{}, err
		}
		c.logger.Info("Identity unavailable, action queued", "correlation_id", correlationID)
		return Outcome{Status: StatusQueued, CorrelationID: correlationID, Messages: session.Messages}, nil
	}

	out, submitted, err := c.process(ctx, identity, session, text)
	if err != nil && !submitted {
		if qerr := c.store.Enqueue(context.WithoutCancel(ctx), text); qerr != nil {
			return Outcome{}, errors.Join(err, qerr)
		}
		return Outcome{Status: StatusQueued, CorrelationID: correlationID, Messages: session.Messages}, err
	}
	return out, err
}

// Enqueue stores text in the pending queue without submitting it.
func (c *Client) Enqueue(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyAction
	}
	return c.store.Enqueue(ctx, text)
}

// Pending returns the queued actions in FIFO order.
func (c *Client) Pending(ctx context.Context) ([]string, error) {
	return c.store.Pending(ctx)
}

// Drain submits the pending queue into the session, one action at a time.
// Concurrent calls while a drain runs are reported as skipped. Each queued action waits
// for any Send or Recover polling the same result location.
func (c *Client) Drain(ctx context.Context, correlationID string) (queue.Report, error) {
	if _, err := c.log.Get(ctx, correlationID); err != nil {
		return queue.Report{}, err
	}
	return c.queue.Trigger(ctx, correlationID)
}

// Recover resumes the poll recorded by the unresolved poll marker, if any.
// It waits for any pipeline polling the marker's location first.
func (c *Client) Recover(ctx context.Context) (Outcome, error) {
	marker, release, err := c.claimMarker(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if marker == nil {
		return Outcome{Status: StatusNothingPending}, nil
	}
	defer release()

	var known []domain.Message
	session, err := c.log.Get(ctx, marker.CorrelationID)
	switch {
	case err == nil:
		known = session.Messages
	case errors.Is(err, domain.ErrSessionNotFound):
	default:
		return Outcome{}, err
	}

	c.logger.Info("Recovering unresolved poll", "location", marker.Location, "correlation_id", marker.CorrelationID)
	res, err := c.poller.Poll(ctx, poller.Request{
		CorrelationID: marker.CorrelationID,
		Location:      marker.Location,
		Known:         known,
	})
	if err != nil {
		return Outcome{Status: StatusTimedOut, CorrelationID: marker.CorrelationID, Messages: known}, err
	}
	return outcome(marker.CorrelationID, "", res), nil
}

// claimMarker returns the current marker with its location held. The marker is read again
// once the location is free, since the pipeline that held it may have replaced or cleared it.
func (c *Client) claimMarker(ctx context.Context) (*domain.UnresolvedPoll, func(), error) {
	marker, err := c.store.Marker(ctx)
	for err == nil && marker != nil {
		key := c.flightKey(marker.Location)
		release, aerr := c.flights.acquire(ctx, key)
		if aerr != nil {
			return nil, nil, aerr
		}
		current, merr := c.store.Marker(ctx)
		if merr == nil && current != nil && c.flightKey(current.Location) == key {
			return current, release, nil
		}
		release()
		marker, err = current, merr
	}
	return nil, nil, err
}

// Resume is what a client does when it opens correlationID: it resumes an unresolved poll,
// then drains the pending queue into the session.
func (c *Client) Resume(ctx context.Context, correlationID string) (Outcome, queue.Report, error) {
	out, err := c.Recover(ctx)
	if err != nil {
		return out, queue.Report{}, err
	}
	report, err := c.Drain(ctx, correlationID)
	return out, report, err
}

// flightKey is the key pipelines are serialized on: the anchor the poller compares against.
func (c *Client) flightKey(location domain.Address) domain.Address {
	if c.pollCfg.DedupScope == poller.ScopeGlobal {
		return ""
	}
	return location
}

// process runs submit, append and poll for one action. The bool reports whether the
// action was broadcast, whatever happened afterwards.
func (c *Client) process(ctx context.Context, identity domain.Address, session *domain.Session, text string) (Outcome, bool, error) {
	inference, err := c.scheme.InferenceLocation(identity, session.CorrelationID)
	if err != nil {
		return Outcome{}, false, err
	}

	release, err := c.flights.acquire(ctx, c.flightKey(session.ResultLocation))
	if err != nil {
		return Outcome{}, false, err
	}
	defer release()

	receipt, err := c.submitter.Submit(ctx, domain.ActionParams{
		Identity:          identity,
		CorrelationID:     session.CorrelationID,
		Seed:              session.Seed,
		InferenceLocation: inference,
		ResultLocation:    session.ResultLocation,
		Text:              text,
	})
	if err != nil {
		return Outcome{}, false, err
	}

	known := append(append([]domain.Message(nil), session.Messages...), domain.Message{
		Role:      domain.RoleSubmitted,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
	updated, err := c.log.Append(context.WithoutCancel(ctx), session.CorrelationID, known[len(known)-1])
	if err != nil {
		c.logger.Error("Failed to record submitted action", "correlation_id", session.CorrelationID, "err", err)
	} else {
		known = updated.Messages
	}

	res, err := c.poller.Poll(ctx, poller.Request{
		CorrelationID: session.CorrelationID,
		Location:      session.ResultLocation,
		Known:         known,
	})
	if err != nil {
		return Outcome{
			Status:        StatusTimedOut,
			CorrelationID: session.CorrelationID,
			Signature:     receipt.Signature,
			Messages:      known,
		}, true, err
	}
	return outcome(session.CorrelationID, receipt.Signature, res), true, nil
}

// drainOne is the queue pipeline. Only a failed submission keeps the entry queued.
func (c *Client) drainOne(ctx context.Context, correlationID, text string) error {
	identity, ok := c.identity.Identity(ctx)
	if !ok {
		return domain.ErrIdentityUnavailable
	}
	session, err := c.log.Get(ctx, correlationID)
	if err != nil {
		return err
	}

	_, submitted, err := c.process(ctx, identity, session, text)
	if !submitted {
		return err
	}
	if err != nil {
		c.logger.Warn("Queued action submitted but poll did not finish", "correlation_id", correlationID, "err", err)
	}
	return nil
}

func outcome(correlationID, signature string, res poller.Result) Outcome {
	out := Outcome{
		Status:        StatusTimedOut,
		CorrelationID: correlationID,
		Signature:     signature,
		Text:          res.Text,
		Messages:      res.Messages,
	}
	if res.Status == poller.StatusResolved {
		out.Status = StatusResolved
	}
	return out
}
