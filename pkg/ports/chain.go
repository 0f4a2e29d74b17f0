package ports

import (
	"context"

	"github.com/aretw0/relay/pkg/domain"
)

// AddressDeriver computes deterministic addresses from ordered seeds.
// Implementations must be pure: the same seeds always yield the same address.
type AddressDeriver interface {
	Derive(seeds ...[]byte) (domain.Address, error)
}

// InstructionBuilder encodes an action into an instruction the transport can sign.
type InstructionBuilder interface {
	Build(ctx context.Context, params domain.ActionParams) (domain.Instruction, error)
}

// Transport signs and broadcasts a transaction.
// A nil error implies the transaction was durably broadcast, not that its result is available.
type Transport interface {
	SignAndSend(ctx context.Context, tx domain.Transaction) (domain.Receipt, error)
}

// ResultStore fetches the raw buffer written at a location.
// It may fail transiently and must be safe to retry.
// Returns domain.ErrNoResult (or a nil buffer) when nothing has been written yet.
type ResultStore interface {
	Fetch(ctx context.Context, location domain.Address) ([]byte, error)
}

// IdentityProvider exposes the connected submitter identity.
// ok is false while no identity (wallet, signer, credential) is connected.
type IdentityProvider interface {
	Identity(ctx context.Context) (id domain.Address, ok bool)
}

// StaticIdentity is an IdentityProvider that always returns the same address.
// An empty StaticIdentity reports no identity.
type StaticIdentity domain.Address

// Identity implements IdentityProvider.
func (s StaticIdentity) Identity(context.Context) (domain.Address, bool) {
	return domain.Address(s), s != ""
}

// Prerequisite reports whether queued actions may be processed now.
// A non-nil error explains what is missing.
type Prerequisite interface {
	Ready(ctx context.Context) error
}

// IdentityPrerequisite is satisfied once the provider reports a connected identity.
type IdentityPrerequisite struct {
	Provider IdentityProvider
}

// Ready implements Prerequisite.
func (p IdentityPrerequisite) Ready(ctx context.Context) error {
	if p.Provider == nil {
		return domain.ErrIdentityUnavailable
	}
	if _, ok := p.Provider.Identity(ctx); !ok {
		return domain.ErrIdentityUnavailable
	}
	return nil
}
