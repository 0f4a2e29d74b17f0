package derive

import (
	"fmt"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// Policy selects how result locations are derived.
type Policy string

const (
	// PolicyPerIdentity derives one result location per submitter identity.
	// Concurrent sessions of the same identity share (and race on) that location.
	PolicyPerIdentity Policy = "per_identity"
	// PolicyPerSession derives a result location per identity and session.
	PolicyPerSession Policy = "per_session"
)

// MaxSeed is the largest session seed; seeds are encoded as a single byte.
const MaxSeed = 255

var (
	seedChatContext = []byte("chat_context")
	seedResponse    = []byte("response")
	seedInference   = []byte("inference")
)

// Scheme derives every address the relay needs from an identity.
type Scheme struct {
	Deriver ports.AddressDeriver
	Policy  Policy
}

// ParsePolicy validates a policy name. Empty selects PolicyPerIdentity.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyPerIdentity:
		return PolicyPerIdentity, nil
	case PolicyPerSession:
		return PolicyPerSession, nil
	}
	return "", fmt.Errorf("unknown result location policy %q", s)
}

// CorrelationID derives the session key for identity and seed.
func (s Scheme) CorrelationID(identity domain.Address, seed int) (string, error) {
	if seed < 0 || seed > MaxSeed {
		return "", fmt.Errorf("seed %d: %w", seed, domain.ErrSeedExhausted)
	}
	addr, err := s.Deriver.Derive(seedChatContext, AddressBytes(identity), []byte{byte(seed)})
	if err != nil {
		return "", fmt.Errorf("failed to derive correlation id: %w", err)
	}
	return addr.String(), nil
}

// ResultLocation derives where the result for correlationID will be written.
func (s Scheme) ResultLocation(identity domain.Address, correlationID string) (domain.Address, error) {
	seeds := [][]byte{seedResponse, AddressBytes(identity)}
	if s.Policy == PolicyPerSession {
		seeds = append(seeds, AddressBytes(domain.Address(correlationID)))
	}
	addr, err := s.Deriver.Derive(seeds...)
	if err != nil {
		return "", fmt.Errorf("failed to derive result location: %w", err)
	}
	return addr, nil
}

// InferenceLocation derives the per-action request location.
func (s Scheme) InferenceLocation(identity domain.Address, correlationID string) (domain.Address, error) {
	addr, err := s.Deriver.Derive(seedInference, AddressBytes(identity), AddressBytes(domain.Address(correlationID)))
	if err != nil {
		return "", fmt.Errorf("failed to derive inference location: %w", err)
	}
	return addr, nil
}
