package mortgage

import (
	"fmt"
	"math/big"

	"mortgagechain/native/parcel"
)

// Status enumerates the lifecycle of a mortgage.
type Status uint8

const (
	StatusPending Status = iota
	StatusOngoing
	StatusDefaulted
	StatusPaid
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOngoing:
		return "ongoing"
	case StatusDefaulted:
		return "defaulted"
	case StatusPaid:
		return "paid"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s <= StatusPaid }

// Kind selects the settlement algorithm run at funding time.
type Kind uint8

const (
	// KindBuy purchases the collateral from the marketplace.
	KindBuy Kind = iota
)

func (k Kind) Valid() bool { return k == KindBuy }

// Mortgage is the persisted escrow record.
type Mortgage struct {
	ID           uint64
	Borrower     [20]byte
	Engine       [20]byte
	LoanID       uint64
	Deposit      *big.Int
	CollateralID parcel.ID
	// CollateralCost is zero until funding and immutable afterwards.
	CollateralCost *big.Int
	Status         Status
	Kind           Kind
	Converter      [20]byte
	Check          [32]byte
	CreatedAt      uint64
}

// Clone returns a deep copy of the mortgage.
func (m *Mortgage) Clone() *Mortgage {
	if m == nil {
		return nil
	}
	out := *m
	out.Deposit = cloneBig(m.Deposit)
	out.CollateralCost = cloneBig(m.CollateralCost)
	return &out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// OpenRequest describes a mortgage request. Exactly one of LoanID and
// LoanIdentifier selects the loan; LoanIdentifier wins when non-zero.
type OpenRequest struct {
	Engine         [20]byte
	LoanID         uint64
	LoanIdentifier [32]byte
	Deposit        *big.Int
	CollateralID   parcel.ID
	Converter      [20]byte
	Kind           Kind
}

// FundingContext is what the loan engine hands the cosigner at funding time.
type FundingContext struct {
	LoanID     uint64
	Data       []byte
	OracleData []byte
}
