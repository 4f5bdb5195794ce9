package events

import (
	"math/big"

	"mortgagechain/core/types"
	"mortgagechain/crypto"
)

const (
	// TypeTransfer is emitted for every fungible balance movement.
	TypeTransfer = "bank.transfer"
	// TypeMint is emitted when new units enter circulation.
	TypeMint = "bank.mint"
)

type Transfer struct {
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	attrs["from"] = crypto.Address(e.From).String()
	attrs["to"] = crypto.Address(e.To).String()
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Mint struct {
	Asset  string
	To     [20]byte
	Amount *big.Int
}

func (Mint) EventType() string { return TypeMint }

func (e Mint) Event() *types.Event {
	return &types.Event{Type: TypeMint, Attributes: map[string]string{
		"asset":  normalizeAsset(e.Asset),
		"to":     crypto.Address(e.To).String(),
		"amount": formatAmount(e.Amount),
	}}
}
