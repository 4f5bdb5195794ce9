package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"mortgagechain/core/events"
)

var (
	ErrUnknownToken           = errors.New("bank: unknown token")
	ErrTokenExists            = errors.New("bank: token already registered")
	ErrInvalidAmount          = errors.New("bank: amount must be non-negative")
	ErrInsufficientBalance    = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance  = errors.New("bank: insufficient allowance")
	ErrBalanceOverflow        = errors.New("bank: balance overflow")
	ErrMintUnauthorized       = errors.New("bank: caller is not the mint authority")
	errNilState               = errors.New("bank: state not configured")
	errInvalidTokenDefinition = errors.New("bank: token symbol required")
)

// KVStore is the slice of the state manager the ledger needs.
type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// TokenMetadata describes a registered fungible token.
type TokenMetadata struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority [20]byte
}

// Ledger tracks balances, allowances and supply for every registered token.
type Ledger struct {
	state   KVStore
	emitter events.Emitter
}

func NewLedger(state KVStore) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil restores the no-op
// emitter.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// NormalizeSymbol upper-cases and trims a token symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func tokenKey(symbol string) []byte { return []byte("bank/token/" + symbol) }

func supplyKey(symbol string) []byte { return []byte("bank/supply/" + symbol) }

func balanceKey(symbol string, addr [20]byte) []byte {
	key := make([]byte, 0, len("bank/balance/")+len(symbol)+1+len(addr))
	key = append(key, "bank/balance/"...)
	key = append(key, symbol...)
	key = append(key, '/')
	return append(key, addr[:]...)
}

func allowanceKey(symbol string, owner, spender [20]byte) []byte {
	key := make([]byte, 0, len("bank/allowance/")+len(symbol)+1+40)
	key = append(key, "bank/allowance/"...)
	key = append(key, symbol...)
	key = append(key, '/')
	key = append(key, owner[:]...)
	return append(key, spender[:]...)
}

// RegisterToken stores the metadata for a new token.
func (l *Ledger) RegisterToken(meta TokenMetadata) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	symbol := NormalizeSymbol(meta.Symbol)
	if symbol == "" {
		return errInvalidTokenDefinition
	}
	ok, err := l.state.KVGet(tokenKey(symbol), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, symbol)
	}
	meta.Symbol = symbol
	return l.state.KVPut(tokenKey(symbol), meta)
}

// Token returns the metadata of a registered token.
func (l *Ledger) Token(symbol string) (*TokenMetadata, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	symbol = NormalizeSymbol(symbol)
	meta := new(TokenMetadata)
	ok, err := l.state.KVGet(tokenKey(symbol), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return meta, nil
}

// TokenExists reports whether the symbol is registered.
func (l *Ledger) TokenExists(symbol string) bool {
	_, err := l.Token(symbol)
	return err == nil
}

func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	value := new(big.Int)
	if _, err := l.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (l *Ledger) storeAmount(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return l.state.KVDelete(key)
	}
	return l.state.KVPut(key, value)
}

// BalanceOf returns the balance of addr in the given token. Unknown tokens
// report an error so typos do not read as empty accounts.
func (l *Ledger) BalanceOf(symbol string, addr [20]byte) (*big.Int, error) {
	meta, err := l.Token(symbol)
	if err != nil {
		return nil, err
	}
	return l.loadAmount(balanceKey(meta.Symbol, addr))
}

// TotalSupply returns the circulating supply of a token.
func (l *Ledger) TotalSupply(symbol string) (*big.Int, error) {
	meta, err := l.Token(symbol)
	if err != nil {
		return nil, err
	}
	return l.loadAmount(supplyKey(meta.Symbol))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// credit adds amount to the stored value at key, rejecting results that do
// not fit in 256 bits.
func (l *Ledger) credit(key []byte, amount *big.Int) error {
	current, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	cur, overflow := uint256.FromBig(current)
	if overflow {
		return ErrBalanceOverflow
	}
	delta, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrBalanceOverflow
	}
	sum, overflow := new(uint256.Int).AddOverflow(cur, delta)
	if overflow {
		return ErrBalanceOverflow
	}
	return l.storeAmount(key, sum.ToBig())
}

func (l *Ledger) debit(key []byte, amount *big.Int, insufficient error) error {
	current, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s need %s", insufficient, current, amount)
	}
	return l.storeAmount(key, new(big.Int).Sub(current, amount))
}

// Mint credits new units to addr and grows the supply. Only genesis and the
// node's faucet call it directly; external callers go through MintAs.
func (l *Ledger) Mint(symbol string, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	meta, err := l.Token(symbol)
	if err != nil {
		return err
	}
	if err := l.credit(supplyKey(meta.Symbol), amount); err != nil {
		return err
	}
	if err := l.credit(balanceKey(meta.Symbol, to), amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Mint{Asset: meta.Symbol, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// MintAs mints on behalf of caller, who must be the token's mint authority.
func (l *Ledger) MintAs(caller [20]byte, symbol string, to [20]byte, amount *big.Int) error {
	meta, err := l.Token(symbol)
	if err != nil {
		return err
	}
	if meta.MintAuthority == ([20]byte{}) || meta.MintAuthority != caller {
		return ErrMintUnauthorized
	}
	return l.Mint(meta.Symbol, to, amount)
}

// Transfer moves amount of symbol from one account to another.
func (l *Ledger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	meta, err := l.Token(symbol)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	if err := l.debit(balanceKey(meta.Symbol, from), amount, ErrInsufficientBalance); err != nil {
		return err
	}
	if err := l.credit(balanceKey(meta.Symbol, to), amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Asset: meta.Symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Approve sets the amount spender may pull from owner. It overwrites any
// previous allowance.
func (l *Ledger) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	meta, err := l.Token(symbol)
	if err != nil {
		return err
	}
	return l.storeAmount(allowanceKey(meta.Symbol, owner, spender), new(big.Int).Set(amount))
}

// Allowance returns the remaining amount spender may pull from owner.
func (l *Ledger) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	meta, err := l.Token(symbol)
	if err != nil {
		return nil, err
	}
	return l.loadAmount(allowanceKey(meta.Symbol, owner, spender))
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming allowance unless the spender is the owner.
func (l *Ledger) TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	meta, err := l.Token(symbol)
	if err != nil {
		return err
	}
	if spender != owner && amount.Sign() > 0 {
		if err := l.debit(allowanceKey(meta.Symbol, owner, spender), amount, ErrInsufficientAllowance); err != nil {
			return err
		}
	}
	return l.Transfer(meta.Symbol, owner, to, amount)
}
