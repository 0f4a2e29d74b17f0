// Package derive provides the default deterministic address derivation and the
// seed scheme used to correlate actions with their result locations.
package derive

import (
	"crypto/sha256"
	"fmt"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/mr-tron/base58/base58"
)

const (
	// MaxSeeds is the maximum number of seeds accepted by Derive.
	MaxSeeds = 16
	// MaxSeedLen is the maximum length of a single seed.
	MaxSeedLen = 32

	marker = "relay-derived-address"
)

// Deriver hashes seeds under a program namespace and encodes the digest as base58.
type Deriver struct {
	program []byte
}

// New creates a Deriver namespaced by program.
func New(program domain.Address) *Deriver {
	return &Deriver{program: AddressBytes(program)}
}

// Derive implements ports.AddressDeriver.
func (d *Deriver) Derive(seeds ...[]byte) (domain.Address, error) {
	if len(seeds) > MaxSeeds {
		return "", fmt.Errorf("too many seeds: %d > %d", len(seeds), MaxSeeds)
	}

	h := sha256.New()
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return "", fmt.Errorf("seed %d too long: %d > %d bytes", i, len(s), MaxSeedLen)
		}
		// Length-prefix each seed so ("ab","c") and ("a","bc") never collide.
		h.Write([]byte{byte(len(s))})
		h.Write(s)
	}
	h.Write(d.program)
	h.Write([]byte(marker))

	return domain.Address(base58.Encode(h.Sum(nil))), nil
}

// AddressBytes returns the raw bytes behind a base58 address.
// Addresses that are not valid base58 are used verbatim.
func AddressBytes(a domain.Address) []byte {
	if a == "" {
		return nil
	}
	raw, err := base58.Decode(string(a))
	if err != nil || len(raw) == 0 {
		return []byte(a)
	}
	return raw
}
