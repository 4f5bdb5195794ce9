package mortgage

import (
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"mortgagechain/core/events"
	"mortgagechain/crypto"
	"mortgagechain/native/loans"
	"mortgagechain/native/parcel"
)

// DefaultMarginSpendBps is the share above the collateral price the helper
// asks borrowers to cover.
const DefaultMarginSpendBps = 1_000

// HelperEngine is the loan engine surface the helper drives.
type HelperEngine interface {
	LoanEngine
	BuildIdentifier(borrower, creator [20]byte, params loans.Params, metadata string) [32]byte
	CreateLoan(caller, borrower [20]byte, params loans.Params, metadata string) (*loans.Loan, error)
	RegisterApprove(identifier [32]byte, signature []byte) error
	ToCurrency(loanID uint64, tokens *big.Int) (*big.Int, error)
	Pay(payer [20]byte, loanID uint64, amount *big.Int) (*big.Int, error)
}

// HelperConfig selects the loan terms the helper fills in for borrowers.
type HelperConfig struct {
	MarginSpendBps uint64
	// Oracle prices the pricing token in the engine token.
	Oracle [20]byte
	// Converter is used for mortgages and for repayments.
	Converter [20]byte
}

// LoanParams are the borrower-chosen loan terms. Currency is always the
// pricing token and the oracle comes from HelperConfig.
type LoanParams struct {
	Amount       *big.Int
	InterestBps  uint64
	PunitoryBps  uint64
	DuesIn       uint64
	CancelableAt uint64
	ExpiresAt    uint64
}

// Helper opens a loan request and its mortgage in one step on behalf of a
// borrower, computing the deposit from the listed price.
type Helper struct {
	address [20]byte
	owner   [20]byte
	manager *Manager
	engine  HelperEngine
	emitter events.Emitter

	mu  sync.RWMutex
	cfg HelperConfig
}

// NewHelper creates a helper acting from address. The manager must list
// address as a creator.
func NewHelper(address, owner [20]byte, manager *Manager, engine HelperEngine, cfg HelperConfig) *Helper {
	return &Helper{
		address: address,
		owner:   owner,
		manager: manager,
		engine:  engine,
		emitter: events.NoopEmitter{},
		cfg:     cfg,
	}
}

func (h *Helper) Address() [20]byte { return h.address }

func (h *Helper) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		h.emitter = events.NoopEmitter{}
		return
	}
	h.emitter = emitter
}

// Config returns the current helper configuration.
func (h *Helper) Config() HelperConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// SetMarginSpend updates the deposit margin. Only the owner may change it.
func (h *Helper) SetMarginSpend(caller [20]byte, marginBps uint64) error {
	if caller != h.owner {
		return ErrUnauthorized
	}
	h.mu.Lock()
	h.cfg.MarginSpendBps = marginBps
	h.mu.Unlock()
	return nil
}

// RequiredDeposit returns price*(1+margin) - loanAmount, rounded up and
// floored at zero.
func RequiredDeposit(price, loanAmount *big.Int, marginBps uint64) *big.Int {
	num := new(big.Int).Mul(price, new(big.Int).SetUint64(bpsDenominator+marginBps))
	total, rem := new(big.Int).QuoRem(num, bps, new(big.Int))
	if rem.Sign() != 0 {
		total.Add(total, big.NewInt(1))
	}
	total.Sub(total, loanAmount)
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	return total
}

func (h *Helper) loanParams(p LoanParams) loans.Params {
	cfg := h.Config()
	amount := big.NewInt(0)
	if p.Amount != nil {
		amount = new(big.Int).Set(p.Amount)
	}
	return loans.Params{
		Oracle:       cfg.Oracle,
		Currency:     h.manager.cfg.PricingToken,
		Amount:       amount,
		InterestBps:  p.InterestBps,
		PunitoryBps:  p.PunitoryBps,
		DuesIn:       p.DuesIn,
		CancelableAt: p.CancelableAt,
		ExpiresAt:    p.ExpiresAt,
	}
}

// LoanIdentifier returns the identifier borrower must sign to request a
// mortgage through the helper with these terms.
func (h *Helper) LoanIdentifier(borrower [20]byte, p LoanParams, metadata string) [32]byte {
	return h.engine.BuildIdentifier(borrower, h.address, h.loanParams(p), metadata)
}

// RequestMortgage creates the loan with the helper as creator, registers
// the borrower's signed approval, pulls the required deposit from the caller
// and opens the mortgage. It returns the mortgage and loan ids.
func (h *Helper) RequestMortgage(caller [20]byte, p LoanParams, metadata string, collateral parcel.ID, signature []byte) (uint64, uint64, error) {
	if err := h.manager.ready(); err != nil {
		return 0, 0, err
	}
	params := h.loanParams(p)
	identifier := h.engine.BuildIdentifier(caller, h.address, params, metadata)
	signer, err := crypto.RecoverDigestSigner(identifier, signature)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if [20]byte(signer) != caller {
		return 0, 0, ErrInvalidSignature
	}

	var mortgageID, loanID uint64
	err = h.manager.state.Atomic(func() error {
		loan, err := h.engine.CreateLoan(h.address, caller, params, metadata)
		if err != nil {
			return err
		}
		loanID = loan.ID
		if err := h.engine.RegisterApprove(identifier, signature); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
		price, err := h.manager.market.Price(collateral)
		if err != nil {
			return err
		}
		deposit := RequiredDeposit(price, params.Amount, h.Config().MarginSpendBps)
		ledger := h.manager.ledger
		pricing := h.manager.cfg.PricingToken
		if err := insufficientFunds(ledger.TransferFrom(pricing, h.address, caller, h.address, deposit)); err != nil {
			return err
		}
		if err := ledger.Approve(pricing, h.address, h.manager.Address(), deposit); err != nil {
			return err
		}
		mortgageID, err = h.manager.Open(h.address, OpenRequest{
			Engine:       h.engine.Address(),
			LoanID:       loan.ID,
			Deposit:      deposit,
			CollateralID: collateral,
			Converter:    h.Config().Converter,
			Kind:         KindBuy,
		})
		if err != nil {
			return err
		}
		rec, err := h.manager.Mortgage(mortgageID)
		if err != nil {
			return err
		}
		h.emitter.Emit(events.Typed{Evt: NewMortgageEvent(EventTypeHelperRequested, rec, map[string]string{
			"helper":     addrString(h.address),
			"identifier": fmt.Sprintf("0x%x", identifier),
		})})
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return mortgageID, loanID, nil
}

// Pay repays a loan with the pricing token. When the engine lends another
// token the payment is converted first; whatever is not applied to the debt
// goes back to the caller. It returns the amount applied in loan currency.
func (h *Helper) Pay(caller [20]byte, loanID uint64, amount *big.Int) (*big.Int, error) {
	if err := h.manager.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payment must be positive", ErrInsufficientFunds)
	}
	ledger := h.manager.ledger
	pricing := h.manager.cfg.PricingToken
	token := h.engine.Token()
	var applied *big.Int
	err := h.manager.state.Atomic(func() error {
		loan, err := h.engine.Loan(loanID)
		if err != nil {
			return err
		}
		if loan.Params.Currency != pricing {
			return fmt.Errorf("%w: loan currency %s is not %s", ErrInvalidState, loan.Params.Currency, pricing)
		}
		preToken, err := ledger.BalanceOf(token, h.address)
		if err != nil {
			return err
		}
		prePricing := preToken
		if token != pricing {
			if prePricing, err = ledger.BalanceOf(pricing, h.address); err != nil {
				return err
			}
		}
		if err := insufficientFunds(ledger.TransferFrom(pricing, h.address, caller, h.address, amount)); err != nil {
			return err
		}

		tokens := new(big.Int).Set(amount)
		if token != pricing {
			gateway, err := h.manager.converters.Get(h.Config().Converter)
			if err != nil {
				return err
			}
			quoted, err := gateway.Quote(pricing, token, amount)
			if err != nil {
				return err
			}
			if err := ledger.Approve(pricing, h.address, gateway.Address(), amount); err != nil {
				return err
			}
			if tokens, err = gateway.Convert(h.address, pricing, token, amount, quoted); err != nil {
				return err
			}
		}
		payable, err := h.engine.ToCurrency(loanID, tokens)
		if err != nil {
			return err
		}
		if payable.Sign() <= 0 {
			return fmt.Errorf("%w: %s %s does not cover any debt", ErrInsufficientFunds, tokens, token)
		}
		if err := ledger.Approve(token, h.address, h.engine.Address(), tokens); err != nil {
			return err
		}
		if applied, err = h.engine.Pay(h.address, loanID, payable); err != nil {
			return err
		}
		if err := ledger.Approve(token, h.address, h.engine.Address(), big.NewInt(0)); err != nil {
			return err
		}
		if err := h.refundAbove(token, preToken, caller); err != nil {
			return err
		}
		if token != pricing {
			if err := h.refundAbove(pricing, prePricing, caller); err != nil {
				return err
			}
		}
		h.emitter.Emit(events.Typed{Evt: NewMortgageEvent(EventTypeHelperPaid, nil, map[string]string{
			"loanId":  strconv.FormatUint(loanID, 10),
			"payer":   addrString(caller),
			"amount":  amount.String(),
			"applied": applied.String(),
		})})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (h *Helper) refundAbove(symbol string, pre *big.Int, to [20]byte) error {
	ledger := h.manager.ledger
	balance, err := ledger.BalanceOf(symbol, h.address)
	if err != nil {
		return err
	}
	excess := new(big.Int).Sub(balance, pre)
	if excess.Sign() <= 0 {
		return nil
	}
	return ledger.Transfer(symbol, h.address, to, excess)
}
