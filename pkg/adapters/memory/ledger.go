package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/relay/pkg/decoder"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/instruction"
)

// Responder computes the result written back for a broadcast transaction.
// ok=false leaves the result location untouched.
type Responder func(tx domain.Transaction) (location domain.Address, text string, ok bool)

// EchoResponder answers every JSONBuilder instruction at its result location with a prefix plus the text.
func EchoResponder(prefix string) Responder {
	return func(tx domain.Transaction) (domain.Address, string, bool) {
		if len(tx.Instructions) == 0 {
			return "", "", false
		}
		p, err := instruction.Params(tx.Instructions[0])
		if err != nil {
			return "", "", false
		}
		return p.ResultLocation, prefix + p.Text, true
	}
}

// Ledger simulates the signer and the result store in memory.
// It implements ports.Transport and ports.ResultStore. Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	accounts map[domain.Address][]byte
	sent     []domain.Transaction
	fetches  int

	respond   Responder
	delay     time.Duration
	reject    func(domain.Transaction) error
	fetchFail func(attempt int) error
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithResponder sets how results are produced after a broadcast.
func WithResponder(r Responder) LedgerOption {
	return func(l *Ledger) {
		l.respond = r
	}
}

// WithDelay postpones writing results, emulating out-of-band processing time.
func WithDelay(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		l.delay = d
	}
}

// WithRejection makes SignAndSend fail whenever fn returns an error.
func WithRejection(fn func(domain.Transaction) error) LedgerOption {
	return func(l *Ledger) {
		l.reject = fn
	}
}

// WithFetchFailure makes Fetch fail whenever fn returns an error for the 1-based attempt number.
func WithFetchFailure(fn func(attempt int) error) LedgerOption {
	return func(l *Ledger) {
		l.fetchFail = fn
	}
}

// NewLedger creates an empty ledger. Without a responder, broadcasts never produce results.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		accounts: make(map[domain.Address][]byte),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SignAndSend implements ports.Transport.
func (l *Ledger) SignAndSend(ctx context.Context, tx domain.Transaction) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	if l.reject != nil {
		if err := l.reject(tx); err != nil {
			return domain.Receipt{}, err
		}
	}

	l.mu.Lock()
	l.sent = append(l.sent, tx)
	sig := fmt.Sprintf("sim-%d", len(l.sent))
	respond, delay := l.respond, l.delay
	l.mu.Unlock()

	if respond != nil {
		if loc, text, ok := respond(tx); ok {
			if delay <= 0 {
				l.Write(loc, text)
			} else {
				time.AfterFunc(delay, func() { l.Write(loc, text) })
			}
		}
	}
	return domain.Receipt{Signature: sig}, nil
}

// Fetch implements ports.ResultStore.
func (l *Ledger) Fetch(ctx context.Context, location domain.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetches++
	if l.fetchFail != nil {
		if err := l.fetchFail(l.fetches); err != nil {
			return nil, err
		}
	}
	buf, ok := l.accounts[location]
	if !ok {
		return nil, domain.ErrNoResult
	}
	return append([]byte(nil), buf...), nil
}

// Write stores text at location using the result buffer layout.
func (l *Ledger) Write(location domain.Address, text string) {
	l.Put(location, decoder.Encode(text))
}

// Put stores a raw buffer at location.
func (l *Ledger) Put(location domain.Address, raw []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[location] = append([]byte(nil), raw...)
}

// Sent returns the transactions broadcast so far.
func (l *Ledger) Sent() []domain.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Transaction(nil), l.sent...)
}

// Fetches returns how many times Fetch was called.
func (l *Ledger) Fetches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetches
}
