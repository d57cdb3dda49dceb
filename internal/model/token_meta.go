package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TokenMeta is the ERC-20 metadata needed to render amounts.
type TokenMeta struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
}

// Display renders the token as "Name (SYMBOL)".
func (m TokenMeta) Display() string {
	if m.Name == "" || m.Name == m.Symbol {
		return m.Symbol
	}
	return fmt.Sprintf("%s (%s)", m.Name, m.Symbol)
}
