package convert

import (
	"fmt"
	"math/big"
)

const bpsDenominator = 10_000

// ReservePool is a constant-product pool over one token pair. Reserves are
// the pool address's ledger balances.
type ReservePool struct {
	address [20]byte
	tokenA  string
	tokenB  string
	feeBps  uint32
	ledger  Ledger
}

// NewReservePool creates a pool for the pair charging feeBps on the input.
func NewReservePool(address [20]byte, tokenA, tokenB string, feeBps uint32, ledger Ledger) (*ReservePool, error) {
	a, b := normalizeSymbol(tokenA), normalizeSymbol(tokenB)
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, tokenA, tokenB)
	}
	if feeBps >= bpsDenominator {
		return nil, fmt.Errorf("convert: fee %d bps out of range", feeBps)
	}
	return &ReservePool{address: address, tokenA: a, tokenB: b, feeBps: feeBps, ledger: ledger}, nil
}

func (p *ReservePool) Address() [20]byte { return p.address }

// Pair returns the pool tokens.
func (p *ReservePool) Pair() (string, string) { return p.tokenA, p.tokenB }

func (p *ReservePool) FeeBps() uint32 { return p.feeBps }

func (p *ReservePool) supports(from, to string) bool {
	return (from == p.tokenA && to == p.tokenB) || (from == p.tokenB && to == p.tokenA)
}

// Reserves returns the pool balances of from and to.
func (p *ReservePool) Reserves(from, to string) (*big.Int, *big.Int, error) {
	from, to = normalizeSymbol(from), normalizeSymbol(to)
	if !p.supports(from, to) {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, from, to)
	}
	rin, err := p.ledger.BalanceOf(from, p.address)
	if err != nil {
		return nil, nil, err
	}
	rout, err := p.ledger.BalanceOf(to, p.address)
	if err != nil {
		return nil, nil, err
	}
	return rin, rout, nil
}

// Quote returns floor(in*(1-fee)*rOut / (rIn + in*(1-fee))).
func (p *ReservePool) Quote(from, to string, amount *big.Int) (*big.Int, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	rin, rout, err := p.Reserves(from, to)
	if err != nil {
		return nil, err
	}
	if rin.Sign() == 0 || rout.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amount, big.NewInt(int64(bpsDenominator-p.feeBps)))
	num := new(big.Int).Mul(inWithFee, rout)
	den := new(big.Int).Mul(rin, big.NewInt(bpsDenominator))
	den.Add(den, inWithFee)
	return num.Quo(num, den), nil
}

// Convert swaps amount of from into to for caller.
func (p *ReservePool) Convert(caller [20]byte, from, to string, amount, minOutput *big.Int) (*big.Int, error) {
	out, err := p.Quote(from, to, amount)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := checkMinimum(out, minOutput); err != nil {
		return nil, err
	}
	from, to = normalizeSymbol(from), normalizeSymbol(to)
	if err := p.ledger.TransferFrom(from, p.address, caller, p.address, amount); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(to, p.address, caller, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddLiquidity moves tokens from provider into the pool reserves.
func (p *ReservePool) AddLiquidity(provider [20]byte, amountA, amountB *big.Int) error {
	if err := positive(amountA); err != nil {
		return err
	}
	if err := positive(amountB); err != nil {
		return err
	}
	if err := p.ledger.Transfer(p.tokenA, provider, p.address, amountA); err != nil {
		return err
	}
	return p.ledger.Transfer(p.tokenB, provider, p.address, amountB)
}

// Rate reports the spot price: units of token per unit of currency, read from
// the reserves without fee.
func (p *ReservePool) Rate(currency, token string) (*big.Rat, error) {
	rin, rout, err := p.Reserves(currency, token)
	if err != nil {
		return nil, err
	}
	if rin.Sign() == 0 || rout.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	return new(big.Rat).SetFrac(rout, rin), nil
}
