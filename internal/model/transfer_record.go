package model

// Source identifies where a TransferRecord came from.
type Source string

const (
	SourceLocal Source = "local"
	SourceChain Source = "chain"
)

// ParseSource maps user input to a Source. "blockchain" is accepted as an alias of chain.
func ParseSource(input string) (Source, bool) {
	switch input {
	case "local":
		return SourceLocal, true
	case "chain", "blockchain":
		return SourceChain, true
	default:
		return "", false
	}
}

// TransferRecord is one entry of the transfer history. Amount is always a human-readable
// decimal already scaled by the token decimals.
type TransferRecord struct {
	ID           string  `json:"id"`
	TxHash       string  `json:"tx_hash"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Amount       string  `json:"amount"`
	TokenAddress string  `json:"token_address"`
	TokenName    string  `json:"token_name"`
	TokenSymbol  string  `json:"token_symbol"`
	Timestamp    string  `json:"timestamp"`
	BlockNumber  uint64  `json:"block_number"`
	GasUsed      string  `json:"gas_used"`
	GasPrice     *string `json:"gas_price"`
	Spender      *string `json:"spender"`
	IsDelegated  bool    `json:"is_delegated"`
	Source       Source  `json:"source"`
}
