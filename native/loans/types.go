package loans

import (
	"fmt"
	"math/big"
	"strings"
)

// Status enumerates the lifecycle of a loan request.
type Status uint8

const (
	// StatusInitial marks a request waiting for a lender.
	StatusInitial Status = iota
	// StatusLent marks a funded loan that is being repaid.
	StatusLent
	// StatusPaid marks a loan whose debt has been fully repaid.
	StatusPaid
	// StatusDestroyed marks a request withdrawn before funding.
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusLent:
		return "lent"
	case StatusPaid:
		return "paid"
	case StatusDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Params are the economic terms of a loan request. They are bound into the
// loan identifier the borrower signs.
type Params struct {
	// Oracle prices Currency in the engine token. The zero address is only
	// valid when Currency is the engine token.
	Oracle [20]byte
	// Currency denominates Amount and every repayment.
	Currency string
	// Amount is the principal, in Currency units.
	Amount *big.Int
	// InterestBps is the simple annual interest applied until the due time.
	InterestBps uint64
	// PunitoryBps is the simple annual interest applied after the due time.
	PunitoryBps uint64
	// DuesIn is the loan duration in seconds counted from funding.
	DuesIn uint64
	// CancelableAt is the minimum interest period in seconds. Early
	// repayment still owes interest up to this point.
	CancelableAt uint64
	// ExpiresAt is the unix time after which the request can no longer be
	// funded.
	ExpiresAt uint64
}

// Clone returns a deep copy of the params.
func (p Params) Clone() Params {
	out := p
	out.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.Amount != nil {
		out.Amount = new(big.Int).Set(p.Amount)
	} else {
		out.Amount = big.NewInt(0)
	}
	return out
}

// Loan is the persisted record of a request and its funding.
type Loan struct {
	ID         uint64
	Identifier [32]byte
	Params     Params
	Metadata   string
	Borrower   [20]byte
	Creator    [20]byte
	Lender     [20]byte
	// Cosigner is set once the cosigner requested at funding confirms.
	Cosigner [20]byte
	// PendingCosigner is the cosigner Lend is waiting on. It is cleared
	// when the cosigner confirms.
	PendingCosigner [20]byte
	Approved        bool
	Status          Status
	CreatedAt       uint64
	LentAt          uint64
	DueTime         uint64
	// Paid accumulates repayments in Currency units.
	Paid *big.Int
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	out := *l
	out.Params = l.Params.Clone()
	if l.Paid != nil {
		out.Paid = new(big.Int).Set(l.Paid)
	} else {
		out.Paid = big.NewInt(0)
	}
	return &out
}

// Cosigned reports whether a cosigner confirmed the loan.
func (l *Loan) Cosigned() bool {
	return l.Cosigner != ([20]byte{})
}
