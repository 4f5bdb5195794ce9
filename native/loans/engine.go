package loans

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"mortgagechain/core/events"
	"mortgagechain/core/types"
	"mortgagechain/crypto"
)

var (
	ErrLoanNotFound         = errors.New("loan engine: loan not found")
	ErrInvalidStatus        = errors.New("loan engine: invalid loan status")
	ErrNotApproved          = errors.New("loan engine: loan not approved by borrower")
	ErrLoanExpired          = errors.New("loan engine: loan request expired")
	ErrDuplicateIdentifier  = errors.New("loan engine: identifier already used")
	ErrInvalidSignature     = errors.New("loan engine: signature does not match borrower")
	ErrUnauthorized         = errors.New("loan engine: caller not authorized")
	ErrUnknownOracle        = errors.New("loan engine: unknown oracle")
	ErrUnknownCosigner      = errors.New("loan engine: unknown cosigner")
	ErrCosignerNotConfirmed = errors.New("loan engine: cosigner did not confirm")
	ErrInvalidParams        = errors.New("loan engine: invalid loan params")
	errNilState             = errors.New("loan engine: state not configured")
	errNilLedger            = errors.New("loan engine: ledger not configured")
)

var basisPoints = big.NewInt(10_000)

const secondsPerYear = 365 * 24 * 60 * 60

// Oracle prices a loan currency in the engine token: the returned rate is the
// amount of token per unit of currency.
type Oracle interface {
	Rate(currency, token string) (*big.Rat, error)
}

// Cosigner is invoked by Lend when the lender names it. The callback must
// call back into Engine.Cosign before returning; otherwise Lend fails.
type Cosigner interface {
	Address() [20]byte
	RequestCosign(engine [20]byte, loanID uint64, data, oracleData []byte) error
}

// Ledger is the token surface the engine moves principal and repayments
// through.
type Ledger interface {
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
	TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Atomic(fn func() error) error
}

// Engine is a peer-to-peer loan ledger. Borrowers request loans, lenders
// fund them in the engine token, and repayments flow back to the current
// lender.
type Engine struct {
	address   [20]byte
	token     string
	state     engineState
	ledger    Ledger
	emitter   events.Emitter
	nowFn     func() int64
	mu        sync.RWMutex
	oracles   map[[20]byte]Oracle
	cosigners map[[20]byte]Cosigner
}

// NewEngine creates an engine operating from address and lending token.
func NewEngine(address [20]byte, token string) *Engine {
	return &Engine{
		address:   address,
		token:     strings.ToUpper(strings.TrimSpace(token)),
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		oracles:   make(map[[20]byte]Oracle),
		cosigners: make(map[[20]byte]Cosigner),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token ledger.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// RegisterOracle makes an oracle selectable by address in loan params.
func (e *Engine) RegisterOracle(addr [20]byte, oracle Oracle) {
	e.mu.Lock()
	e.oracles[addr] = oracle
	e.mu.Unlock()
}

// RegisterCosigner makes a cosigner selectable by address at Lend.
func (e *Engine) RegisterCosigner(c Cosigner) {
	e.mu.Lock()
	e.cosigners[c.Address()] = c
	e.mu.Unlock()
}

func (e *Engine) Address() [20]byte { return e.address }

// Token returns the symbol the engine lends and collects in.
func (e *Engine) Token() string { return e.token }

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) emit(eventType string, loan *Loan, extra map[string]string) {
	attrs := map[string]string{
		"engine":   crypto.Address(e.address).String(),
		"loanId":   fmt.Sprintf("%d", loan.ID),
		"borrower": crypto.Address(loan.Borrower).String(),
		"currency": loan.Params.Currency,
		"amount":   loan.Params.Amount.String(),
		"status":   loan.Status.String(),
	}
	if loan.Lender != ([20]byte{}) {
		attrs["lender"] = crypto.Address(loan.Lender).String()
	}
	for k, v := range extra {
		attrs[k] = v
	}
	e.emitter.Emit(events.Typed{Evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) nextLoanID() (uint64, error) {
	var last uint64
	if _, err := e.state.KVGet(loanCounterKey(e.address), &last); err != nil {
		return 0, err
	}
	last++
	if err := e.state.KVPut(loanCounterKey(e.address), last); err != nil {
		return 0, err
	}
	return last, nil
}

func (e *Engine) putLoan(loan *Loan) error {
	return e.state.KVPut(loanKey(e.address, loan.ID), loan)
}

// Loan returns a copy of the stored loan.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan := new(Loan)
	ok, err := e.state.KVGet(loanKey(e.address, id), loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	return loan.Clone(), nil
}

// LoanByIdentifier resolves a loan from the identifier it was created with.
func (e *Engine) LoanByIdentifier(identifier [32]byte) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var id uint64
	ok, err := e.state.KVGet(identifierKey(e.address, identifier), &id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: identifier %x", ErrLoanNotFound, identifier)
	}
	return e.Loan(id)
}

// BuildIdentifier returns the identifier a loan with these terms would get on
// this engine.
func (e *Engine) BuildIdentifier(borrower, creator [20]byte, params Params, metadata string) [32]byte {
	return BuildIdentifier(e.address, borrower, creator, params, metadata)
}

func validateParams(p Params) error {
	if p.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidParams)
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	if _, overflow := uint256.FromBig(p.Amount); overflow {
		return fmt.Errorf("%w: amount exceeds 256 bits", ErrInvalidParams)
	}
	if p.DuesIn == 0 {
		return fmt.Errorf("%w: duesIn must be positive", ErrInvalidParams)
	}
	if p.CancelableAt > p.DuesIn {
		return fmt.Errorf("%w: cancelableAt beyond duesIn", ErrInvalidParams)
	}
	return nil
}

// CreateLoan records a new request created by caller for borrower. A request
// created by its own borrower is approved immediately.
func (e *Engine) CreateLoan(caller, borrower [20]byte, params Params, metadata string) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	params = params.Clone()
	if err := validateParams(params); err != nil {
		return nil, err
	}
	now := e.now()
	if params.ExpiresAt <= now {
		return nil, ErrLoanExpired
	}
	if params.Currency != e.token {
		e.mu.RLock()
		_, ok := e.oracles[params.Oracle]
		e.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %x", ErrUnknownOracle, params.Oracle)
		}
	}
	identifier := e.BuildIdentifier(borrower, caller, params, metadata)
	taken, err := e.state.KVGet(identifierKey(e.address, identifier), nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateIdentifier
	}
	var loan *Loan
	err = e.state.Atomic(func() error {
		id, err := e.nextLoanID()
		if err != nil {
			return err
		}
		loan = &Loan{
			ID:         id,
			Identifier: identifier,
			Params:     params,
			Metadata:   metadata,
			Borrower:   borrower,
			Creator:    caller,
			Approved:   caller == borrower,
			Status:     StatusInitial,
			CreatedAt:  now,
			Paid:       big.NewInt(0),
		}
		if err := e.putLoan(loan); err != nil {
			return err
		}
		return e.state.KVPut(identifierKey(e.address, identifier), id)
	})
	if err != nil {
		return nil, err
	}
	e.emit(EventTypeLoanCreated, loan, map[string]string{"identifier": fmt.Sprintf("0x%x", identifier)})
	return loan.Clone(), nil
}

// Approve records the borrower's consent directly.
func (e *Engine) Approve(caller [20]byte, loanID uint64) error {
	loan, err := e.Loan(loanID)
	if err != nil {
		return err
	}
	if loan.Borrower != caller {
		return ErrUnauthorized
	}
	return e.markApproved(loan)
}

// RegisterApprove records the borrower's consent from a signature over the
// loan identifier.
func (e *Engine) RegisterApprove(identifier [32]byte, signature []byte) error {
	loan, err := e.LoanByIdentifier(identifier)
	if err != nil {
		return err
	}
	signer, err := crypto.RecoverDigestSigner(identifier, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if [20]byte(signer) != loan.Borrower {
		return ErrInvalidSignature
	}
	return e.markApproved(loan)
}

func (e *Engine) markApproved(loan *Loan) error {
	if loan.Status != StatusInitial {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, loan.Status)
	}
	if loan.Approved {
		return nil
	}
	loan.Approved = true
	if err := e.putLoan(loan); err != nil {
		return err
	}
	e.emit(EventTypeLoanApproved, loan, nil)
	return nil
}

func (e *Engine) rate(loan *Loan) (*big.Rat, error) {
	if loan.Params.Currency == e.token {
		return big.NewRat(1, 1), nil
	}
	e.mu.RLock()
	oracle, ok := e.oracles[loan.Params.Oracle]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownOracle, loan.Params.Oracle)
	}
	rate, err := oracle.Rate(loan.Params.Currency, e.token)
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive rate", ErrUnknownOracle)
	}
	return rate, nil
}

// ToTokens converts a currency amount of the loan into engine tokens,
// rounding up.
func (e *Engine) ToTokens(loanID uint64, amount *big.Int) (*big.Int, error) {
	loan, err := e.Loan(loanID)
	if err != nil {
		return nil, err
	}
	rate, err := e.rate(loan)
	if err != nil {
		return nil, err
	}
	return mulRatCeil(amount, rate), nil
}

// ToCurrency converts engine tokens into the loan currency, rounding down.
func (e *Engine) ToCurrency(loanID uint64, tokens *big.Int) (*big.Int, error) {
	loan, err := e.Loan(loanID)
	if err != nil {
		return nil, err
	}
	rate, err := e.rate(loan)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(tokens, rate.Denom())
	return out.Quo(out, rate.Num()), nil
}

func mulRatCeil(amount *big.Int, rate *big.Rat) *big.Int {
	num := new(big.Int).Mul(amount, rate.Num())
	den := rate.Denom()
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Lend funds a loan. The principal, converted to engine tokens, moves from
// lender to borrower through the allowance granted to the engine. When a
// cosigner is named it is called before Lend returns and must confirm
// through Cosign; any failure reverts the whole call.
func (e *Engine) Lend(lender [20]byte, loanID uint64, oracleData []byte, cosigner [20]byte, cosignerData []byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.state.Atomic(func() error {
		loan, err := e.Loan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != StatusInitial {
			return fmt.Errorf("%w: %s", ErrInvalidStatus, loan.Status)
		}
		if !loan.Approved {
			return ErrNotApproved
		}
		now := e.now()
		if now > loan.Params.ExpiresAt {
			return ErrLoanExpired
		}
		rate, err := e.rate(loan)
		if err != nil {
			return err
		}
		tokens := mulRatCeil(loan.Params.Amount, rate)

		loan.Status = StatusLent
		loan.Lender = lender
		loan.LentAt = now
		loan.DueTime = now + loan.Params.DuesIn
		if cosigner != ([20]byte{}) {
			loan.PendingCosigner = cosigner
		}
		if err := e.putLoan(loan); err != nil {
			return err
		}
		if err := e.ledger.TransferFrom(e.token, e.address, lender, loan.Borrower, tokens); err != nil {
			return err
		}
		e.emit(EventTypeLoanLent, loan, map[string]string{"tokens": tokens.String()})

		if cosigner == ([20]byte{}) {
			return nil
		}
		e.mu.RLock()
		c, ok := e.cosigners[cosigner]
		e.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %x", ErrUnknownCosigner, cosigner)
		}
		if err := c.RequestCosign(e.address, loanID, cosignerData, oracleData); err != nil {
			return err
		}
		confirmed, err := e.Loan(loanID)
		if err != nil {
			return err
		}
		if confirmed.Cosigner != cosigner {
			return ErrCosignerNotConfirmed
		}
		return nil
	})
}

// Cosign is called back by the cosigner named in Lend. cost, in engine tokens,
// is paid by the lender to the cosigner.
func (e *Engine) Cosign(caller [20]byte, loanID uint64, cost *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.Loan(loanID)
	if err != nil {
		return err
	}
	if loan.Status != StatusLent || loan.Cosigned() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, loan.Status)
	}
	if loan.PendingCosigner != caller {
		return ErrUnauthorized
	}
	if cost != nil && cost.Sign() > 0 {
		if err := e.ledger.TransferFrom(e.token, e.address, loan.Lender, caller, cost); err != nil {
			return err
		}
	}
	loan.Cosigner = caller
	loan.PendingCosigner = [20]byte{}
	if err := e.putLoan(loan); err != nil {
		return err
	}
	e.emit(EventTypeLoanCosigned, loan, map[string]string{"cosigner": crypto.Address(caller).String()})
	return nil
}

func interestFor(principal *big.Int, bps, seconds uint64) *big.Int {
	if bps == 0 || seconds == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(principal, new(big.Int).SetUint64(bps))
	out.Mul(out, new(big.Int).SetUint64(seconds))
	den := new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear))
	return out.Quo(out, den)
}

func (e *Engine) totalOwed(loan *Loan, now uint64) *big.Int {
	total := new(big.Int).Set(loan.Params.Amount)
	if loan.Status != StatusLent {
		return total
	}
	accrueUntil := now
	if floor := loan.LentAt + loan.Params.CancelableAt; accrueUntil < floor {
		accrueUntil = floor
	}
	if accrueUntil > loan.DueTime {
		accrueUntil = loan.DueTime
	}
	total.Add(total, interestFor(loan.Params.Amount, loan.Params.InterestBps, accrueUntil-loan.LentAt))
	if now > loan.DueTime {
		total.Add(total, interestFor(loan.Params.Amount, loan.Params.PunitoryBps, now-loan.DueTime))
	}
	return total
}

// Owed returns the outstanding debt of a funded loan in its currency.
func (e *Engine) Owed(loanID uint64) (*big.Int, error) {
	loan, err := e.Loan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != StatusLent {
		return big.NewInt(0), nil
	}
	owed := e.totalOwed(loan, e.now())
	owed.Sub(owed, loan.Paid)
	if owed.Sign() < 0 {
		owed.SetInt64(0)
	}
	return owed, nil
}

// Pay repays up to amount (in loan currency) on behalf of payer. Amounts above
// the outstanding debt are capped. The converted token amount is pulled from
// payer through the engine allowance and sent to the current lender. It
// returns the currency amount applied.
func (e *Engine) Pay(payer [20]byte, loanID uint64, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: payment must be positive", ErrInvalidParams)
	}
	var applied *big.Int
	err := e.state.Atomic(func() error {
		loan, err := e.Loan(loanID)
		if err != nil {
			return err
		}
		if loan.Status != StatusLent {
			return fmt.Errorf("%w: %s", ErrInvalidStatus, loan.Status)
		}
		owed := e.totalOwed(loan, e.now())
		owed.Sub(owed, loan.Paid)
		applied = new(big.Int).Set(amount)
		if applied.Cmp(owed) > 0 {
			applied.Set(owed)
		}
		rate, err := e.rate(loan)
		if err != nil {
			return err
		}
		tokens := mulRatCeil(applied, rate)
		loan.Paid.Add(loan.Paid, applied)
		if loan.Paid.Cmp(e.totalOwed(loan, e.now())) >= 0 {
			loan.Status = StatusPaid
		}
		if err := e.putLoan(loan); err != nil {
			return err
		}
		if err := e.ledger.TransferFrom(e.token, e.address, payer, loan.Lender, tokens); err != nil {
			return err
		}
		eventType := EventTypeLoanPayment
		if loan.Status == StatusPaid {
			eventType = EventTypeLoanPaid
		}
		e.emit(eventType, loan, map[string]string{"applied": applied.String(), "tokens": tokens.String()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// TransferLoan hands the lender position to a new holder. Future repayments
// and default claims go to the new lender.
func (e *Engine) TransferLoan(caller [20]byte, loanID uint64, to [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.Loan(loanID)
	if err != nil {
		return err
	}
	if loan.Status != StatusLent {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, loan.Status)
	}
	if loan.Lender != caller {
		return ErrUnauthorized
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("%w: empty recipient", ErrInvalidParams)
	}
	loan.Lender = to
	if err := e.putLoan(loan); err != nil {
		return err
	}
	e.emit(EventTypeLoanTransferred, loan, map[string]string{"from": crypto.Address(caller).String()})
	return nil
}

// Destroy withdraws an unfunded request. Only its borrower or creator may do
// so.
func (e *Engine) Destroy(caller [20]byte, loanID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.Loan(loanID)
	if err != nil {
		return err
	}
	if loan.Status != StatusInitial {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, loan.Status)
	}
	if caller != loan.Borrower && caller != loan.Creator {
		return ErrUnauthorized
	}
	loan.Status = StatusDestroyed
	if err := e.putLoan(loan); err != nil {
		return err
	}
	e.emit(EventTypeLoanDestroyed, loan, nil)
	return nil
}

// Status returns the lifecycle status of a loan.
func (e *Engine) Status(loanID uint64) (Status, error) {
	loan, err := e.Loan(loanID)
	if err != nil {
		return 0, err
	}
	return loan.Status, nil
}

// IsDefaulted reports whether a funded loan is past its due time and unpaid.
func (e *Engine) IsDefaulted(loanID uint64) (bool, error) {
	loan, err := e.Loan(loanID)
	if err != nil {
		return false, err
	}
	return loan.Status == StatusLent && e.now() > loan.DueTime, nil
}

// LenderOf returns the current lender of a loan.
func (e *Engine) LenderOf(loanID uint64) ([20]byte, error) {
	loan, err := e.Loan(loanID)
	if err != nil {
		return [20]byte{}, err
	}
	return loan.Lender, nil
}

// BorrowerOf returns the borrower of a loan.
func (e *Engine) BorrowerOf(loanID uint64) ([20]byte, error) {
	loan, err := e.Loan(loanID)
	if err != nil {
		return [20]byte{}, err
	}
	return loan.Borrower, nil
}
