package domain

// ActionParams carries everything needed to encode one user action.
type ActionParams struct {
	Identity          Address `json:"identity"`
	CorrelationID     string  `json:"correlation_id"`
	Seed              int     `json:"seed"`
	InferenceLocation Address `json:"inference_location"`
	ResultLocation    Address `json:"result_location"`
	Text              string  `json:"text"`
}

// AccountRef references an account touched by an instruction.
type AccountRef struct {
	Address  Address `json:"address"`
	Signer   bool    `json:"signer,omitempty"`
	Writable bool    `json:"writable,omitempty"`
}

// Instruction is the opaque output of an InstructionBuilder.
type Instruction struct {
	ProgramAddress Address      `json:"program_address"`
	Accounts       []AccountRef `json:"accounts"`
	Data           []byte       `json:"data"`
}

// TransactionOptions tune how a transport signs and broadcasts.
type TransactionOptions struct {
	FeeToken         string `json:"fee_token" yaml:"fee_token" mapstructure:"fee_token"`
	ComputeUnitLimit uint32 `json:"compute_unit_limit" yaml:"compute_unit_limit" mapstructure:"compute_unit_limit"`
}

// DefaultTransactionOptions mirrors what the hosted signer expects.
func DefaultTransactionOptions() TransactionOptions {
	return TransactionOptions{
		FeeToken:         "USDC",
		ComputeUnitLimit: 500_000,
	}
}

// Transaction is what a Transport signs and broadcasts.
type Transaction struct {
	Instructions []Instruction      `json:"instructions"`
	Options      TransactionOptions `json:"options"`
}

// Receipt confirms that a transaction was durably broadcast.
type Receipt struct {
	Signature string `json:"signature"`
}
