// Package instruction provides a JSON InstructionBuilder.
//
// The wire encoding of real programs is owned by their generated clients; this builder keeps
// the same account layout and carries the action parameters as a JSON payload, which the
// simulated ledger and signer relays understand.
package instruction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/relay/pkg/domain"
)

// Operation names the program entrypoint invoked by the payload.
const Operation = "ai_inference"

// ErrEmptyText is returned when an action has nothing to submit.
var ErrEmptyText = domain.ErrEmptyAction

type payload struct {
	Op     string              `json:"op"`
	Params domain.ActionParams `json:"params"`
}

// JSONBuilder implements ports.InstructionBuilder.
type JSONBuilder struct {
	Program domain.Address
}

// NewJSONBuilder creates a builder targeting program.
func NewJSONBuilder(program domain.Address) *JSONBuilder {
	return &JSONBuilder{Program: program}
}

// Build encodes params into an instruction.
func (b *JSONBuilder) Build(ctx context.Context, params domain.ActionParams) (domain.Instruction, error) {
	if strings.TrimSpace(params.Text) == "" {
		return domain.Instruction{}, ErrEmptyText
	}
	data, err := json.Marshal(payload{Op: Operation, Params: params})
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("failed to encode instruction: %w", err)
	}

	return domain.Instruction{
		ProgramAddress: b.Program,
		Accounts: []domain.AccountRef{
			{Address: params.Identity, Signer: true, Writable: true},
			{Address: domain.Address(params.CorrelationID), Writable: true},
			{Address: params.InferenceLocation, Writable: true},
			{Address: params.ResultLocation, Writable: true},
		},
		Data: data,
	}, nil
}

// Params decodes the action parameters carried by an instruction built by JSONBuilder.
func Params(instr domain.Instruction) (domain.ActionParams, error) {
	var p payload
	if err := json.Unmarshal(instr.Data, &p); err != nil {
		return domain.ActionParams{}, fmt.Errorf("failed to decode instruction: %w", err)
	}
	if p.Op != Operation {
		return domain.ActionParams{}, fmt.Errorf("unexpected operation %q", p.Op)
	}
	return p.Params, nil
}
