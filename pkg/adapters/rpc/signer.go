package rpc

import (
	"context"
	"errors"

	"github.com/aretw0/relay/pkg/domain"
)

// SignerPath is appended to the signer endpoint for broadcasts.
const SignerPath = "/v1/transactions"

type signResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// Signer implements ports.Transport by handing transactions to a remote signing service
// (wallet bridge or relayer) that signs and broadcasts them.
type Signer struct {
	base
}

// NewSigner creates a transport for the signing service at endpoint.
func NewSigner(endpoint string, opts ...Option) *Signer {
	s := &Signer{base: newBase(endpoint)}
	s.apply(opts)
	return s
}

// SignAndSend posts tx and returns the broadcast signature.
func (s *Signer) SignAndSend(ctx context.Context, tx domain.Transaction) (domain.Receipt, error) {
	var resp signResponse
	if err := s.post(ctx, s.endpoint+SignerPath, tx, &resp); err != nil {
		return domain.Receipt{}, err
	}
	if resp.Error != "" {
		return domain.Receipt{}, errors.New(resp.Error)
	}
	if resp.Signature == "" {
		return domain.Receipt{}, errors.New("signer returned no signature")
	}
	s.logger.Debug("Transaction broadcast", "signature", resp.Signature)
	return domain.Receipt{Signature: resp.Signature}, nil
}
