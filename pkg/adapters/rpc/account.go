package rpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"

	"github.com/aretw0/relay/pkg/domain"
)

// DefaultCommitment is the confirmation level requested when reading accounts.
const DefaultCommitment = "confirmed"

type accountInfo struct {
	Value *struct {
		Data  []string `json:"data"`
		Owner string   `json:"owner"`
	} `json:"value"`
}

// AccountReader implements ports.ResultStore with the getAccountInfo JSON-RPC method.
type AccountReader struct {
	base
	commitment string
	ids        atomic.Uint64
}

// NewAccountReader creates a reader for the node at endpoint.
func NewAccountReader(endpoint string, opts ...Option) *AccountReader {
	r := &AccountReader{
		base:       newBase(endpoint),
		commitment: DefaultCommitment,
	}
	r.apply(opts)
	return r
}

// Fetch returns the raw account data at location.
// Returns domain.ErrNoResult when the account does not exist yet.
func (r *AccountReader) Fetch(ctx context.Context, location domain.Address) ([]byte, error) {
	params := []any{
		location.String(),
		map[string]string{"encoding": "base64", "commitment": r.commitment},
	}

	var info accountInfo
	if err := r.call(ctx, &r.ids, "getAccountInfo", params, &info); err != nil {
		return nil, err
	}
	if info.Value == nil || len(info.Value.Data) == 0 {
		return nil, domain.ErrNoResult
	}
	if len(info.Value.Data) > 1 && info.Value.Data[1] != "base64" {
		return nil, fmt.Errorf("unexpected account encoding %q", info.Value.Data[1])
	}

	raw, err := base64.StdEncoding.DecodeString(info.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	r.logger.Debug("Fetched account", "location", location, "bytes", len(raw))
	return raw, nil
}
