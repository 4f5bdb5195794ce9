package convert

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
)

var (
	ErrSlippageExceeded      = errors.New("convert: output below minimum")
	ErrUnknownConverter      = errors.New("convert: unknown converter")
	ErrUnsupportedPair       = errors.New("convert: unsupported pair")
	ErrInsufficientLiquidity = errors.New("convert: insufficient liquidity")
	ErrInvalidAmount         = errors.New("convert: amount must be positive")
	ErrUnauthorized          = errors.New("convert: caller is not the operator")
	ErrNoRate                = errors.New("convert: no rate for pair")
	errNilState              = errors.New("convert: state not configured")
)

// Gateway quotes and executes token conversions. Convert pulls amount of from
// out of caller through the ledger allowance granted to Address and pays the
// output in to back to caller.
type Gateway interface {
	Address() [20]byte
	Quote(from, to string, amount *big.Int) (*big.Int, error)
	Convert(caller [20]byte, from, to string, amount, minOutput *big.Int) (*big.Int, error)
}

// Ledger is the token surface conversion backends settle through.
type Ledger interface {
	BalanceOf(symbol string, addr [20]byte) (*big.Int, error)
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
	TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error
}

type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

func normalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func checkMinimum(out, minOutput *big.Int) error {
	if minOutput != nil && out.Cmp(minOutput) < 0 {
		return fmt.Errorf("%w: got %s want %s", ErrSlippageExceeded, out, minOutput)
	}
	return nil
}

// Registry is the dispatch table from converter address to backend. Retired
// backends stay known but refuse lookups so a stored selection fails loudly.
type Registry struct {
	mu       sync.RWMutex
	state    KVStore
	backends map[[20]byte]Gateway
}

func NewRegistry(state KVStore) *Registry {
	return &Registry{state: state, backends: make(map[[20]byte]Gateway)}
}

func retiredKey(addr [20]byte) []byte { return append([]byte("convert/retired/"), addr[:]...) }

// Register adds a backend under its own address.
func (r *Registry) Register(g Gateway) error {
	if g == nil {
		return fmt.Errorf("convert: nil gateway")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	addr := g.Address()
	if _, exists := r.backends[addr]; exists {
		return fmt.Errorf("convert: converter %x already registered", addr)
	}
	r.backends[addr] = g
	return nil
}

// Retire disables a backend. Later lookups fail with ErrUnknownConverter.
func (r *Registry) Retire(addr [20]byte) error {
	if r.state == nil {
		return errNilState
	}
	r.mu.RLock()
	_, ok := r.backends[addr]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %x", ErrUnknownConverter, addr)
	}
	return r.state.KVPut(retiredKey(addr), true)
}

// Get resolves an active backend.
func (r *Registry) Get(addr [20]byte) (Gateway, error) {
	r.mu.RLock()
	g, ok := r.backends[addr]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownConverter, addr)
	}
	if r.state != nil {
		retired, err := r.state.KVGet(retiredKey(addr), nil)
		if err != nil {
			return nil, err
		}
		if retired {
			return nil, fmt.Errorf("%w: %x retired", ErrUnknownConverter, addr)
		}
	}
	return g, nil
}

// Addresses lists every registered backend, retired or not, in byte order.
func (r *Registry) Addresses() [][20]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][20]byte, 0, len(r.backends))
	for addr := range r.backends {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}
