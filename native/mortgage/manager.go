package mortgage

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"mortgagechain/core/events"
	"mortgagechain/native/convert"
	"mortgagechain/native/loans"
	"mortgagechain/native/parcel"
)

const (
	// DefaultMinCoverageBps requires deposit plus loan to reach 110% of the
	// collateral price when a mortgage is opened.
	DefaultMinCoverageBps = 11_000
	// DefaultMaxOverspendBps bounds how far above the reverse quote a
	// conversion may spend.
	DefaultMaxOverspendBps = 500

	bpsDenominator = 10_000
)

var bps = big.NewInt(bpsDenominator)

type managerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Atomic(fn func() error) error
}

// Ledger is the fungible token surface the manager escrows through.
type Ledger interface {
	BalanceOf(symbol string, addr [20]byte) (*big.Int, error)
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
	TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error
	Approve(symbol string, owner, spender [20]byte, amount *big.Int) error
}

// LoanEngine is the loan ledger surface the manager cosigns on.
type LoanEngine interface {
	Address() [20]byte
	Token() string
	Loan(id uint64) (*loans.Loan, error)
	LoanByIdentifier(identifier [32]byte) (*loans.Loan, error)
	ToTokens(loanID uint64, amount *big.Int) (*big.Int, error)
	Cosign(caller [20]byte, loanID uint64, cost *big.Int) error
	LenderOf(loanID uint64) ([20]byte, error)
	IsDefaulted(loanID uint64) (bool, error)
}

// Converters resolves a converter address to a live backend.
type Converters interface {
	Get(addr [20]byte) (convert.Gateway, error)
}

// Config carries the manager's economic parameters.
type Config struct {
	PricingToken    string
	MinCoverageBps  uint64
	MaxOverspendBps uint64
}

func (c Config) normalized() Config {
	c.PricingToken = strings.ToUpper(strings.TrimSpace(c.PricingToken))
	if c.MinCoverageBps == 0 {
		c.MinCoverageBps = DefaultMinCoverageBps
	}
	return c
}

// Manager escrows deposits, purchases collateral when the backing loan is
// funded and releases it once the loan resolves.
type Manager struct {
	address    [20]byte
	owner      [20]byte
	cfg        Config
	state      managerState
	ledger     Ledger
	market     CollateralMarket
	converters Converters
	emitter    events.Emitter
	nowFn      func() int64

	mu      sync.RWMutex
	engines map[[20]byte]LoanEngine
}

// NewManager creates a manager acting from address. owner administers the
// creator allow-list.
func NewManager(address, owner [20]byte, cfg Config) *Manager {
	return &Manager{
		address: address,
		owner:   owner,
		cfg:     cfg.normalized(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		engines: make(map[[20]byte]LoanEngine),
	}
}

func (m *Manager) SetState(state managerState) { m.state = state }

func (m *Manager) SetLedger(ledger Ledger) { m.ledger = ledger }

func (m *Manager) SetMarket(market CollateralMarket) { m.market = market }

func (m *Manager) SetConverters(c Converters) { m.converters = c }

// SetEmitter configures the event emitter used by the manager. Passing nil
// resets the emitter to a no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (m *Manager) SetNowFunc(now func() int64) {
	if now == nil {
		m.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	m.nowFn = now
}

// RegisterEngine allows mortgages against loans of engine.
func (m *Manager) RegisterEngine(engine LoanEngine) {
	m.mu.Lock()
	m.engines[engine.Address()] = engine
	m.mu.Unlock()
}

func (m *Manager) Address() [20]byte { return m.address }

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) now() uint64 {
	ts := m.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (m *Manager) ready() error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if m.ledger == nil || m.market == nil {
		return fmt.Errorf("mortgage: ledger and market required")
	}
	return nil
}

func (m *Manager) engine(addr [20]byte) (LoanEngine, error) {
	m.mu.RLock()
	engine, ok := m.engines[addr]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownEngine, addr)
	}
	return engine, nil
}

// SetCreator adds or removes addr from the creator allow-list. Allow-listed
// creators may open mortgages for loans they do not borrow.
func (m *Manager) SetCreator(caller, addr [20]byte, allowed bool) error {
	if err := m.ready(); err != nil {
		return err
	}
	if caller != m.owner {
		return ErrUnauthorized
	}
	if !allowed {
		return m.state.KVDelete(creatorKey(addr))
	}
	return m.state.KVPut(creatorKey(addr), true)
}

// IsCreator reports whether addr is allow-listed.
func (m *Manager) IsCreator(addr [20]byte) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}
	var allowed bool
	ok, err := m.state.KVGet(creatorKey(addr), &allowed)
	if err != nil {
		return false, err
	}
	return ok && allowed, nil
}

// Mortgage returns a copy of the stored record.
func (m *Manager) Mortgage(id uint64) (*Mortgage, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	rec := new(Mortgage)
	ok, err := m.state.KVGet(recordKey(id), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMortgageNotFound, id)
	}
	return rec.Clone(), nil
}

// MortgageByLoan resolves the mortgage backed by a loan.
func (m *Manager) MortgageByLoan(engine [20]byte, loanID uint64) (*Mortgage, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	var id uint64
	ok, err := m.state.KVGet(loanIndexKey(engine, loanID), &id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: loan %d", ErrMortgageNotFound, loanID)
	}
	return m.Mortgage(id)
}

// MortgageByCollateral returns the Ongoing mortgage holding collateral.
func (m *Manager) MortgageByCollateral(collateral parcel.ID) (*Mortgage, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	var id uint64
	ok, err := m.state.KVGet(custodyKey(collateral), &id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: collateral %s", ErrMortgageNotFound, collateral)
	}
	return m.Mortgage(id)
}

func (m *Manager) putMortgage(rec *Mortgage) error {
	return m.state.KVPut(recordKey(rec.ID), rec)
}

func (m *Manager) nextID() (uint64, error) {
	var last uint64
	if _, err := m.state.KVGet(nextIDKey, &last); err != nil {
		return 0, err
	}
	last++
	if err := m.state.KVPut(nextIDKey, last); err != nil {
		return 0, err
	}
	return last, nil
}

func (m *Manager) checkValue(id uint64, engine [20]byte, loanID uint64, borrower [20]byte, createdAt uint64) [32]byte {
	buf := make([]byte, 0, 20+8+20+8+20+8)
	buf = append(buf, m.address[:]...)
	buf = binary.BigEndian.AppendUint64(buf, id)
	buf = append(buf, engine[:]...)
	buf = binary.BigEndian.AppendUint64(buf, loanID)
	buf = append(buf, borrower[:]...)
	buf = binary.BigEndian.AppendUint64(buf, createdAt)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(buf))
	return out
}

func insufficientFunds(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
}

// Open escrows the deposit and registers a Pending mortgage for an unfunded
// loan. The caller must be the loan borrower or an allow-listed creator. The
// position is minted to the borrower.
func (m *Manager) Open(caller [20]byte, req OpenRequest) (uint64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	var id uint64
	err := m.state.Atomic(func() error {
		var err error
		id, err = m.open(caller, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// OpenByIdentifier opens a mortgage for the loan created with identifier.
func (m *Manager) OpenByIdentifier(caller [20]byte, engine [20]byte, identifier [32]byte, deposit *big.Int, collateral parcel.ID, converter [20]byte) (uint64, error) {
	return m.Open(caller, OpenRequest{
		Engine:         engine,
		LoanIdentifier: identifier,
		Deposit:        deposit,
		CollateralID:   collateral,
		Converter:      converter,
		Kind:           KindBuy,
	})
}

func (m *Manager) open(caller [20]byte, req OpenRequest) (uint64, error) {
	engine, err := m.engine(req.Engine)
	if err != nil {
		return 0, err
	}
	if !req.Kind.Valid() {
		return 0, fmt.Errorf("%w: unsupported kind %d", ErrInvalidState, req.Kind)
	}
	if req.Deposit == nil || req.Deposit.Sign() < 0 {
		return 0, fmt.Errorf("%w: deposit must be non-negative", ErrInsufficientFunds)
	}
	var loan *loans.Loan
	if req.LoanIdentifier != ([32]byte{}) {
		loan, err = engine.LoanByIdentifier(req.LoanIdentifier)
	} else {
		loan, err = engine.Loan(req.LoanID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if loan.Status != loans.StatusInitial || loan.Cosigned() {
		return 0, fmt.Errorf("%w: loan %d is %s", ErrInvalidState, loan.ID, loan.Status)
	}
	now := m.now()
	if now > loan.Params.ExpiresAt {
		return 0, fmt.Errorf("%w: loan %d expired", ErrInvalidState, loan.ID)
	}
	inUse, err := m.state.KVGet(loanIndexKey(req.Engine, loan.ID), nil)
	if err != nil {
		return 0, err
	}
	if inUse {
		return 0, ErrLoanInUse
	}
	if caller != loan.Borrower {
		allowed, err := m.IsCreator(caller)
		if err != nil {
			return 0, err
		}
		if !allowed {
			return 0, ErrUnauthorized
		}
	}
	if loan.Params.Currency != m.cfg.PricingToken {
		return 0, fmt.Errorf("%w: loan currency %s is not %s", ErrInvalidState, loan.Params.Currency, m.cfg.PricingToken)
	}
	price, err := m.market.Price(req.CollateralID)
	if err != nil {
		return 0, err
	}
	if engine.Token() != m.cfg.PricingToken || req.Converter != ([20]byte{}) {
		if m.converters == nil {
			return 0, fmt.Errorf("%w: no converters configured", ErrUnknownConverter)
		}
		if _, err := m.converters.Get(req.Converter); err != nil {
			return 0, err
		}
	}
	covered := new(big.Int).Add(loan.Params.Amount, req.Deposit)
	covered.Mul(covered, bps)
	required := new(big.Int).Mul(price, new(big.Int).SetUint64(m.cfg.MinCoverageBps))
	if covered.Cmp(required) < 0 {
		return 0, fmt.Errorf("%w: loan %s + deposit %s against price %s", ErrInsufficientCoverage, loan.Params.Amount, req.Deposit, price)
	}

	if err := insufficientFunds(m.ledger.TransferFrom(m.cfg.PricingToken, m.address, caller, m.address, req.Deposit)); err != nil {
		return 0, err
	}
	id, err := m.nextID()
	if err != nil {
		return 0, err
	}
	rec := &Mortgage{
		ID:             id,
		Borrower:       loan.Borrower,
		Engine:         req.Engine,
		LoanID:         loan.ID,
		Deposit:        new(big.Int).Set(req.Deposit),
		CollateralID:   req.CollateralID,
		CollateralCost: big.NewInt(0),
		Status:         StatusPending,
		Kind:           req.Kind,
		Converter:      req.Converter,
		CreatedAt:      now,
	}
	rec.Check = m.checkValue(id, rec.Engine, rec.LoanID, rec.Borrower, now)
	if err := m.putMortgage(rec); err != nil {
		return 0, err
	}
	if err := m.state.KVPut(loanIndexKey(req.Engine, loan.ID), id); err != nil {
		return 0, err
	}
	if err := m.movePosition(id, [20]byte{}, rec.Borrower); err != nil {
		return 0, err
	}
	m.emit(EventTypeRequested, rec, map[string]string{"price": price.String()})
	return id, nil
}

// GetData returns the cosigner data a lender must pass to Lend for mortgage
// id.
func (m *Manager) GetData(id uint64) ([]byte, error) {
	rec, err := m.Mortgage(id)
	if err != nil {
		return nil, err
	}
	return EncodeCosignerData(rec.ID, rec.Check), nil
}

// Cancel withdraws a Pending mortgage and refunds the deposit to the
// borrower.
func (m *Manager) Cancel(caller [20]byte, id uint64) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.state.Atomic(func() error {
		rec, err := m.Mortgage(id)
		if err != nil {
			return err
		}
		if rec.Status != StatusPending {
			return fmt.Errorf("%w: mortgage %d is %s", ErrInvalidState, id, rec.Status)
		}
		if caller != rec.Borrower {
			return ErrUnauthorized
		}
		holder, err := m.OwnerOf(id)
		if err != nil {
			return err
		}
		if err := m.movePosition(id, holder, [20]byte{}); err != nil {
			return err
		}
		if err := m.state.KVDelete(recordKey(id)); err != nil {
			return err
		}
		if err := m.state.KVDelete(loanIndexKey(rec.Engine, rec.LoanID)); err != nil {
			return err
		}
		if err := m.ledger.Transfer(m.cfg.PricingToken, m.address, rec.Borrower, rec.Deposit); err != nil {
			return insufficientFunds(err)
		}
		m.emit(EventTypeCancelled, rec, nil)
		return nil
	})
}

// Claim resolves an Ongoing mortgage once its loan is paid or defaulted. A
// paid loan releases the collateral to the position holder; a defaulted one
// hands it to the current lender. Anyone may call it; proof is accepted for
// collateral markets that need one and is unused by the marketplace adapter.
func (m *Manager) Claim(caller [20]byte, engineAddr [20]byte, loanID uint64, proof []byte) (Status, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	var outcome Status
	err := m.state.Atomic(func() error {
		engine, err := m.engine(engineAddr)
		if err != nil {
			return err
		}
		rec, err := m.MortgageByLoan(engineAddr, loanID)
		if err != nil {
			return err
		}
		if rec.Status != StatusOngoing {
			return fmt.Errorf("%w: mortgage %d is %s", ErrInvalidState, rec.ID, rec.Status)
		}
		loan, err := engine.Loan(loanID)
		if err != nil {
			return err
		}
		var beneficiary [20]byte
		switch {
		case loan.Status == loans.StatusPaid:
			beneficiary, err = m.OwnerOf(rec.ID)
			if err != nil {
				return err
			}
			outcome = StatusPaid
		default:
			defaulted, err := engine.IsDefaulted(loanID)
			if err != nil {
				return err
			}
			if !defaulted {
				return ErrNotYetResolvable
			}
			beneficiary, err = engine.LenderOf(loanID)
			if err != nil {
				return err
			}
			outcome = StatusDefaulted
		}

		holder, err := m.OwnerOf(rec.ID)
		if err != nil {
			return err
		}
		rec.Status = outcome
		if err := m.putMortgage(rec); err != nil {
			return err
		}
		if err := m.state.KVDelete(custodyKey(rec.CollateralID)); err != nil {
			return err
		}
		if err := m.movePosition(rec.ID, holder, [20]byte{}); err != nil {
			return err
		}
		if err := m.market.TransferCollateral(m.address, beneficiary, rec.CollateralID); err != nil {
			return err
		}
		eventType := EventTypePaid
		if outcome == StatusDefaulted {
			eventType = EventTypeDefaulted
		}
		m.emit(eventType, rec, map[string]string{"beneficiary": addrString(beneficiary), "caller": addrString(caller)})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}
