package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"mortgagechain/crypto"
)

// Spec seeds a fresh node: tokens and balances, land parcels and their
// listings, conversion liquidity and the mortgage creator allow-list.
type Spec struct {
	Tokens    []TokenSpec                  `json:"tokens" yaml:"tokens"`
	Alloc     map[string]map[string]string `json:"alloc" yaml:"alloc"` // addr -> token -> amount
	Parcels   []ParcelSpec                 `json:"parcels" yaml:"parcels"`
	Listings  []ListingSpec                `json:"listings" yaml:"listings"`
	Pools     []PoolSpec                   `json:"pools" yaml:"pools"`
	Rates     []RateSpec                   `json:"rates" yaml:"rates"`
	Inventory map[string]string            `json:"inventory" yaml:"inventory"` // order book token -> amount
	Creators  []string                     `json:"creators" yaml:"creators"`
}

type TokenSpec struct {
	Symbol        string `json:"symbol" yaml:"symbol"`
	Name          string `json:"name" yaml:"name"`
	Decimals      uint8  `json:"decimals" yaml:"decimals"`
	MintAuthority string `json:"mintAuthority,omitempty" yaml:"mintAuthority,omitempty"`
}

// ParcelSpec assigns the parcel at (X, Y) to Owner.
type ParcelSpec struct {
	X     int64  `json:"x" yaml:"x"`
	Y     int64  `json:"y" yaml:"y"`
	Owner string `json:"owner" yaml:"owner"`
}

// ListingSpec puts the parcel at (X, Y) on sale by its owner.
type ListingSpec struct {
	X         int64  `json:"x" yaml:"x"`
	Y         int64  `json:"y" yaml:"y"`
	Price     string `json:"price" yaml:"price"`
	ExpiresAt uint64 `json:"expiresAt" yaml:"expiresAt"`
}

// PoolSpec creates a reserve pool under crypto.ModuleAddress("convert/pool/"+Name)
// funded by Provider.
type PoolSpec struct {
	Name     string `json:"name" yaml:"name"`
	TokenA   string `json:"tokenA" yaml:"tokenA"`
	TokenB   string `json:"tokenB" yaml:"tokenB"`
	FeeBps   uint32 `json:"feeBps" yaml:"feeBps"`
	Provider string `json:"provider" yaml:"provider"`
	AmountA  string `json:"amountA" yaml:"amountA"`
	AmountB  string `json:"amountB" yaml:"amountB"`
}

// RateSpec sets an order book rate as a decimal string ("0.5", "2").
type RateSpec struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Rate string `json:"rate" yaml:"rate"`
}

// Load reads a genesis spec. Files ending in .yaml or .yml are decoded as
// YAML, everything else as JSON. Unknown fields are rejected either way.
func Load(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec Spec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec: %w", err)
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks addresses and amounts without touching state.
func (s *Spec) Validate() error {
	for _, token := range s.Tokens {
		if strings.TrimSpace(token.Symbol) == "" {
			return fmt.Errorf("token symbol required")
		}
		if token.MintAuthority != "" {
			if _, err := ParseAccount(token.MintAuthority); err != nil {
				return fmt.Errorf("token %q mintAuthority: %w", token.Symbol, err)
			}
		}
	}
	for addr, balances := range s.Alloc {
		if _, err := ParseAccount(addr); err != nil {
			return fmt.Errorf("alloc: %w", err)
		}
		for symbol, amount := range balances {
			if _, err := ParseAmount(amount); err != nil {
				return fmt.Errorf("alloc %s %s: %w", addr, symbol, err)
			}
		}
	}
	for _, p := range s.Parcels {
		if _, err := ParseAccount(p.Owner); err != nil {
			return fmt.Errorf("parcel (%d,%d): %w", p.X, p.Y, err)
		}
	}
	for _, l := range s.Listings {
		if _, err := ParseAmount(l.Price); err != nil {
			return fmt.Errorf("listing (%d,%d): %w", l.X, l.Y, err)
		}
	}
	for _, p := range s.Pools {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("pool name required")
		}
		if _, err := ParseAccount(p.Provider); err != nil {
			return fmt.Errorf("pool %s provider: %w", p.Name, err)
		}
		for _, amount := range []string{p.AmountA, p.AmountB} {
			if _, err := ParseAmount(amount); err != nil {
				return fmt.Errorf("pool %s: %w", p.Name, err)
			}
		}
	}
	for _, r := range s.Rates {
		if _, ok := new(big.Rat).SetString(strings.TrimSpace(r.Rate)); !ok {
			return fmt.Errorf("rate %s/%s: invalid value %q", r.From, r.To, r.Rate)
		}
	}
	for symbol, amount := range s.Inventory {
		if _, err := ParseAmount(amount); err != nil {
			return fmt.Errorf("inventory %s: %w", symbol, err)
		}
	}
	for _, c := range s.Creators {
		if _, err := ParseAccount(c); err != nil {
			return fmt.Errorf("creator: %w", err)
		}
	}
	return nil
}

// ParseAccount decodes a bech32 or 0x-hex account address.
func ParseAccount(addr string) ([20]byte, error) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return [20]byte{}, fmt.Errorf("decode account %q: %w", addr, err)
	}
	return [20]byte(decoded), nil
}

// ParseAmount parses a non-negative base-10 integer.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
