package instruction_test

import (
	"context"
	"testing"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/instruction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONBuilder_Build(t *testing.T) {
	b := instruction.NewJSONBuilder("prog")
	params := domain.ActionParams{
		Identity:          "wallet",
		CorrelationID:     "ctxA",
		InferenceLocation: "inf",
		ResultLocation:    "resp",
		Text:              "gm",
	}

	instr, err := b.Build(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, domain.Address("prog"), instr.ProgramAddress)
	require.Len(t, instr.Accounts, 4)
	assert.True(t, instr.Accounts[0].Signer)
	assert.Equal(t, domain.Address("resp"), instr.Accounts[3].Address)

	decoded, err := instruction.Params(instr)
	require.NoError(t, err)
	assert.Equal(t, params, decoded)
}

func TestJSONBuilder_RejectsEmptyText(t *testing.T) {
	_, err := instruction.NewJSONBuilder("prog").Build(context.Background(), domain.ActionParams{Text: "   "})
	assert.ErrorIs(t, err, instruction.ErrEmptyText)
}

func TestParams_Garbage(t *testing.T) {
	_, err := instruction.Params(domain.Instruction{Data: []byte("nope")})
	assert.Error(t, err)

	_, err = instruction.Params(domain.Instruction{Data: []byte(`{"op":"other"}`)})
	assert.Error(t, err)
}
