package genesis

import (
	"fmt"
	"sort"
	"strings"

	"mortgagechain/crypto"
	"mortgagechain/native/bank"
	"mortgagechain/native/convert"
	"mortgagechain/native/market"
	"mortgagechain/native/mortgage"
	"mortgagechain/native/parcel"
)

// Modules are the native modules genesis writes into.
type Modules struct {
	Ledger  *bank.Ledger
	Parcels *parcel.Registry
	Market  *market.Marketplace
	Book    *convert.OrderBook
	Manager *mortgage.Manager
	// Operator administers the order book and the creator allow-list.
	Operator [20]byte
	// AddPool registers a freshly created reserve pool with the node.
	AddPool func(*convert.ReservePool) error
}

// PoolAddress returns the address a named genesis pool lives at.
func PoolAddress(name string) [20]byte {
	return [20]byte(crypto.ModuleAddress("convert/pool/" + strings.ToLower(strings.TrimSpace(name))))
}

// Apply writes spec into the modules in a deterministic order. The caller
// owns the surrounding atomic scope and commit.
func Apply(spec *Spec, mods Modules) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	// 1) Tokens (sorted)
	tokens := append([]TokenSpec(nil), spec.Tokens...)
	sort.Slice(tokens, func(i, j int) bool {
		return bank.NormalizeSymbol(tokens[i].Symbol) < bank.NormalizeSymbol(tokens[j].Symbol)
	})
	for _, token := range tokens {
		meta := bank.TokenMetadata{Symbol: token.Symbol, Name: token.Name, Decimals: token.Decimals}
		if token.MintAuthority != "" {
			meta.MintAuthority, _ = ParseAccount(token.MintAuthority)
		}
		if err := mods.Ledger.RegisterToken(meta); err != nil {
			return fmt.Errorf("register token %q: %w", token.Symbol, err)
		}
	}

	// 2) Allocations (outer: addresses sorted; inner: symbols sorted)
	addrs := make([]string, 0, len(spec.Alloc))
	for addr := range spec.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, raw := range addrs {
		addr, _ := ParseAccount(raw)
		if err := mintAll(mods.Ledger, addr, spec.Alloc[raw]); err != nil {
			return fmt.Errorf("alloc %s: %w", raw, err)
		}
	}
	if len(spec.Inventory) > 0 {
		if mods.Book == nil {
			return fmt.Errorf("inventory configured without an order book")
		}
		if err := mintAll(mods.Ledger, mods.Book.Address(), spec.Inventory); err != nil {
			return fmt.Errorf("inventory: %w", err)
		}
	}

	// 3) Parcels and listings
	for _, p := range spec.Parcels {
		owner, _ := ParseAccount(p.Owner)
		if err := mods.Parcels.Assign(owner, parcel.EncodeParcelID(p.X, p.Y)); err != nil {
			return fmt.Errorf("parcel (%d,%d): %w", p.X, p.Y, err)
		}
	}
	for _, l := range spec.Listings {
		id := parcel.EncodeParcelID(l.X, l.Y)
		owner, err := mods.Parcels.OwnerOf(id)
		if err != nil {
			return fmt.Errorf("listing (%d,%d): %w", l.X, l.Y, err)
		}
		if err := mods.Parcels.SetApprovalForAll(owner, mods.Market.Address(), true); err != nil {
			return err
		}
		price, _ := ParseAmount(l.Price)
		if _, err := mods.Market.CreateOrder(owner, id, price, l.ExpiresAt); err != nil {
			return fmt.Errorf("listing (%d,%d): %w", l.X, l.Y, err)
		}
	}

	// 4) Conversion liquidity
	for _, r := range spec.Rates {
		if err := mods.Book.SetDecimalRate(mods.Operator, r.From, r.To, r.Rate); err != nil {
			return fmt.Errorf("rate %s/%s: %w", r.From, r.To, err)
		}
	}
	for _, p := range spec.Pools {
		pool, err := convert.NewReservePool(PoolAddress(p.Name), p.TokenA, p.TokenB, p.FeeBps, mods.Ledger)
		if err != nil {
			return fmt.Errorf("pool %s: %w", p.Name, err)
		}
		provider, _ := ParseAccount(p.Provider)
		amountA, _ := ParseAmount(p.AmountA)
		amountB, _ := ParseAmount(p.AmountB)
		if err := pool.AddLiquidity(provider, amountA, amountB); err != nil {
			return fmt.Errorf("pool %s liquidity: %w", p.Name, err)
		}
		if mods.AddPool != nil {
			if err := mods.AddPool(pool); err != nil {
				return fmt.Errorf("pool %s: %w", p.Name, err)
			}
		}
	}

	// 5) Mortgage creators
	for _, raw := range spec.Creators {
		addr, _ := ParseAccount(raw)
		if err := mods.Manager.SetCreator(mods.Operator, addr, true); err != nil {
			return fmt.Errorf("creator %s: %w", raw, err)
		}
	}
	return nil
}

func mintAll(ledger *bank.Ledger, to [20]byte, balances map[string]string) error {
	symbols := make([]string, 0, len(balances))
	for symbol := range balances {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		amount, _ := ParseAmount(balances[symbol])
		if amount.Sign() == 0 {
			continue
		}
		if err := ledger.Mint(symbol, to, amount); err != nil {
			return fmt.Errorf("%s: %w", symbol, err)
		}
	}
	return nil
}
