package convert

import (
	"fmt"
	"math/big"
	"strings"
)

// OrderBook converts at operator-set rates out of its own inventory. A rate
// for FROM/TO is the amount of TO paid per unit of FROM.
type OrderBook struct {
	address  [20]byte
	operator [20]byte
	state    KVStore
	ledger   Ledger
}

type storedRate struct {
	Num *big.Int
	Den *big.Int
}

func NewOrderBook(address, operator [20]byte, state KVStore, ledger Ledger) *OrderBook {
	return &OrderBook{address: address, operator: operator, state: state, ledger: ledger}
}

func (b *OrderBook) Address() [20]byte { return b.address }

func (b *OrderBook) Operator() [20]byte { return b.operator }

func (b *OrderBook) rateKey(from, to string) []byte {
	key := append([]byte("convert/book/"), b.address[:]...)
	return append(key, "/"+from+"/"+to...)
}

// SetRate records the FROM/TO rate. Only the operator may change rates.
func (b *OrderBook) SetRate(caller [20]byte, from, to string, rate *big.Rat) error {
	if b.state == nil {
		return errNilState
	}
	if caller != b.operator {
		return ErrUnauthorized
	}
	from, to = normalizeSymbol(from), normalizeSymbol(to)
	if from == "" || to == "" || from == to {
		return fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, from, to)
	}
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("convert: rate must be positive")
	}
	return b.state.KVPut(b.rateKey(from, to), storedRate{
		Num: new(big.Int).Set(rate.Num()),
		Den: new(big.Int).Set(rate.Denom()),
	})
}

// SetDecimalRate parses a decimal string such as "0.5" and stores it.
func (b *OrderBook) SetDecimalRate(caller [20]byte, from, to, rate string) error {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(rate))
	if !ok {
		return fmt.Errorf("convert: invalid rate %q", rate)
	}
	return b.SetRate(caller, from, to, rat)
}

// Rate returns the stored FROM/TO rate. It doubles as a loan currency oracle.
func (b *OrderBook) Rate(from, to string) (*big.Rat, error) {
	if b.state == nil {
		return nil, errNilState
	}
	from, to = normalizeSymbol(from), normalizeSymbol(to)
	var stored storedRate
	ok, err := b.state.KVGet(b.rateKey(from, to), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Den == nil || stored.Den.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoRate, from, to)
	}
	return new(big.Rat).SetFrac(stored.Num, stored.Den), nil
}

// Quote returns floor(amount * rate).
func (b *OrderBook) Quote(from, to string, amount *big.Int) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	rate, err := b.Rate(from, to)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(amount, rate.Num())
	return out.Quo(out, rate.Denom()), nil
}

// Convert pays amount*rate of to from inventory after pulling amount of from.
func (b *OrderBook) Convert(caller [20]byte, from, to string, amount, minOutput *big.Int) (*big.Int, error) {
	out, err := b.Quote(from, to, amount)
	if err != nil {
		return nil, err
	}
	if err := checkMinimum(out, minOutput); err != nil {
		return nil, err
	}
	from, to = normalizeSymbol(from), normalizeSymbol(to)
	inventory, err := b.ledger.BalanceOf(to, b.address)
	if err != nil {
		return nil, err
	}
	if inventory.Cmp(out) < 0 {
		return nil, fmt.Errorf("%w: inventory %s need %s", ErrInsufficientLiquidity, inventory, out)
	}
	if err := b.ledger.TransferFrom(from, b.address, caller, b.address, amount); err != nil {
		return nil, err
	}
	if err := b.ledger.Transfer(to, b.address, caller, out); err != nil {
		return nil, err
	}
	return out, nil
}
