package mortgage

import (
	"errors"
	"fmt"
	"math/big"

	"mortgagechain/native/convert"
)

// OnLoanFunded runs when the loan engine funds the loan backing mortgage id.
// It pulls the disbursed tokens from the borrower, converts them into the
// pricing token when needed, buys the collateral and cosigns the loan. Any
// failure reverts every write made by the callback and is returned to the
// engine so the funding itself reverts.
func (m *Manager) OnLoanFunded(caller [20]byte, id uint64, ctx FundingContext) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.state.Atomic(func() error {
		return m.settle(caller, id, ctx)
	})
}

func (m *Manager) settle(caller [20]byte, id uint64, ctx FundingContext) error {
	rec, err := m.Mortgage(id)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("%w: mortgage %d is %s", ErrInvalidState, id, rec.Status)
	}
	if caller != rec.Engine || ctx.LoanID != rec.LoanID {
		return ErrUnauthorized
	}
	dataID, check, err := DecodeCosignerData(ctx.Data)
	if err != nil {
		return err
	}
	if dataID != id || check != rec.Check {
		return ErrInvalidCosignerData
	}
	engine, err := m.engine(rec.Engine)
	if err != nil {
		return err
	}
	price, err := m.market.Price(rec.CollateralID)
	if err != nil {
		return err
	}
	if held, err := m.state.KVGet(custodyKey(rec.CollateralID), nil); err != nil {
		return err
	} else if held {
		return fmt.Errorf("%w: collateral %s already in custody", ErrInvalidState, rec.CollateralID)
	}

	pricing := m.cfg.PricingToken
	token := engine.Token()
	loan, err := engine.Loan(rec.LoanID)
	if err != nil {
		return err
	}
	disbursed, err := engine.ToTokens(rec.LoanID, loan.Params.Amount)
	if err != nil {
		return err
	}
	prePricing, err := m.ledger.BalanceOf(pricing, m.address)
	if err != nil {
		return err
	}
	preToken := prePricing
	if token != pricing {
		if preToken, err = m.ledger.BalanceOf(token, m.address); err != nil {
			return err
		}
	}

	rec.Status = StatusOngoing
	rec.CollateralCost = new(big.Int).Set(price)
	if err := m.putMortgage(rec); err != nil {
		return err
	}
	if err := m.state.KVPut(custodyKey(rec.CollateralID), rec.ID); err != nil {
		return err
	}

	if err := insufficientFunds(m.ledger.TransferFrom(token, m.address, rec.Borrower, m.address, disbursed)); err != nil {
		return err
	}

	shortfall := new(big.Int).Sub(price, rec.Deposit)
	if shortfall.Sign() < 0 {
		shortfall.SetInt64(0)
	}
	if token != pricing {
		if shortfall.Sign() > 0 {
			if err := m.convertShortfall(rec.Converter, token, pricing, shortfall, disbursed); err != nil {
				return err
			}
		}
	} else if disbursed.Cmp(shortfall) < 0 {
		return fmt.Errorf("%w: loan %s and deposit %s below price %s", ErrInsufficientFunds, disbursed, rec.Deposit, price)
	}

	spender := m.market.Spender()
	if err := m.ledger.Approve(pricing, m.address, spender, price); err != nil {
		return err
	}
	if _, err := m.market.Buy(m.address, rec.CollateralID, price); err != nil {
		return insufficientFunds(err)
	}
	if err := m.ledger.Approve(pricing, m.address, spender, big.NewInt(0)); err != nil {
		return err
	}
	owner, err := m.market.OwnerOf(rec.CollateralID)
	if err != nil {
		return err
	}
	if owner != m.address {
		return fmt.Errorf("%w: collateral %s not received", ErrInvalidState, rec.CollateralID)
	}

	// The manager keeps exactly what it held before minus this deposit;
	// everything else goes back to the borrower.
	target := new(big.Int).Sub(prePricing, rec.Deposit)
	if token == pricing {
		if err := m.refundAbove(pricing, target, rec.Borrower); err != nil {
			return err
		}
	} else {
		if err := m.refundAbove(pricing, target, rec.Borrower); err != nil {
			return err
		}
		if err := m.refundAbove(token, preToken, rec.Borrower); err != nil {
			return err
		}
	}

	if err := engine.Cosign(m.address, rec.LoanID, big.NewInt(0)); err != nil {
		return err
	}
	m.emit(EventTypeStarted, rec, map[string]string{"disbursed": disbursed.String(), "token": token})
	return nil
}

func (m *Manager) refundAbove(symbol string, target *big.Int, to [20]byte) error {
	balance, err := m.ledger.BalanceOf(symbol, m.address)
	if err != nil {
		return err
	}
	excess := new(big.Int).Sub(balance, target)
	switch excess.Sign() {
	case 0:
		return nil
	case -1:
		return fmt.Errorf("%w: %s balance %s below escrow %s", ErrInsufficientFunds, symbol, balance, target)
	}
	return m.ledger.Transfer(symbol, m.address, to, excess)
}

// convertShortfall converts the least amount of token that yields at least
// shortfall of pricing. The spend is capped by what the loan disbursed and by
// the reverse quote plus MaxOverspendBps; a converter that cannot quote the
// reverse direction cannot fund.
func (m *Manager) convertShortfall(converter [20]byte, token, pricing string, shortfall, disbursed *big.Int) error {
	if m.converters == nil {
		return fmt.Errorf("%w: no converters configured", ErrUnknownConverter)
	}
	gateway, err := m.converters.Get(converter)
	if err != nil {
		return err
	}
	reverse, err := gateway.Quote(pricing, token, shortfall)
	if err != nil {
		return fmt.Errorf("%w: reverse quote %s->%s: %w", ErrConversionOverBudget, pricing, token, err)
	}
	if reverse.Sign() <= 0 {
		return fmt.Errorf("%w: reverse quote %s->%s is zero", ErrConversionOverBudget, pricing, token)
	}
	budget := new(big.Int).Mul(reverse, new(big.Int).SetUint64(bpsDenominator+m.cfg.MaxOverspendBps))
	budget.Quo(budget, bps)
	if disbursed.Cmp(budget) < 0 {
		budget = new(big.Int).Set(disbursed)
	}
	input, err := MinimalInput(gateway, token, pricing, shortfall, budget)
	if err != nil {
		return err
	}
	if err := m.ledger.Approve(token, m.address, gateway.Address(), input); err != nil {
		return err
	}
	if _, err := gateway.Convert(m.address, token, pricing, input, shortfall); err != nil {
		return err
	}
	return m.ledger.Approve(token, m.address, gateway.Address(), big.NewInt(0))
}

// MinimalInput returns the smallest amount of from, no larger than budget,
// whose quote into to reaches target. It bisects over quotes, assuming they
// are monotonic in the input.
func MinimalInput(gateway convert.Gateway, from, to string, target, budget *big.Int) (*big.Int, error) {
	if target.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if budget == nil || budget.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty budget", ErrConversionOverBudget)
	}
	reaches := func(amount *big.Int) (bool, error) {
		out, err := gateway.Quote(from, to, amount)
		if err != nil {
			if errors.Is(err, convert.ErrInsufficientLiquidity) {
				return false, nil
			}
			return false, err
		}
		return out.Cmp(target) >= 0, nil
	}
	ok, err := reaches(budget)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %s cannot buy %s %s", ErrConversionOverBudget, budget, from, target, to)
	}
	lo, hi := big.NewInt(1), new(big.Int).Set(budget)
	one := big.NewInt(1)
	for lo.Cmp(hi) < 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		ok, err := reaches(mid)
		if err != nil {
			return nil, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid.Add(mid, one)
		}
	}
	return hi, nil
}
