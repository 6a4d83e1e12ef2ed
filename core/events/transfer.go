package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rico/core/types"
)

const (
	// TypeTokenTransfer is emitted for every token ledger balance movement,
	// including mints (zero sender) and burns (zero recipient).
	TypeTokenTransfer = "token.transfer"
	// TypeValueTransfer is emitted when native ETH moves between accounts.
	TypeValueTransfer = "value.transfer"
)

// TokenTransfer describes a token ledger movement.
type TokenTransfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{Type: TypeTokenTransfer, Attributes: map[string]string{
		"from":   common.Address(e.From).Hex(),
		"to":     common.Address(e.To).Hex(),
		"amount": formatAmount(e.Amount),
	}}
}

// ValueTransfer describes a native ETH movement performed by the runtime.
type ValueTransfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (ValueTransfer) EventType() string { return TypeValueTransfer }

func (e ValueTransfer) Event() *types.Event {
	return &types.Event{Type: TypeValueTransfer, Attributes: map[string]string{
		"from":   common.Address(e.From).Hex(),
		"to":     common.Address(e.To).Hex(),
		"amount": formatAmount(e.Amount),
	}}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
