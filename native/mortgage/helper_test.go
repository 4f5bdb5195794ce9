package mortgage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"mortgagechain/core/events"
	"mortgagechain/crypto"
)

func newHelper(t *testing.T, f *fixture) *Helper {
	t.Helper()
	h := NewHelper(crypto.ModuleAddress("mortgage/helper"), admin, f.manager, f.engine, HelperConfig{
		MarginSpendBps: DefaultMarginSpendBps,
		Oracle:         oracleAddr,
		Converter:      f.book.Address(),
	})
	require.NoError(t, f.manager.SetCreator(admin, h.Address(), true))
	return h
}

func helperTerms() LoanParams {
	return LoanParams{Amount: big.NewInt(190), DuesIn: 86_400, ExpiresAt: 10_000}
}

func TestRequiredDeposit(t *testing.T) {
	cases := []struct {
		price, loan int64
		margin      uint64
		want        int64
	}{
		{200, 190, 1_000, 30},
		{200, 250, 1_000, 0},
		{333, 0, 1, 334},
		{200, 200, 0, 0},
	}
	for _, tc := range cases {
		got := RequiredDeposit(big.NewInt(tc.price), big.NewInt(tc.loan), tc.margin)
		require.Equal(t, tc.want, got.Int64(), "price %d loan %d margin %d", tc.price, tc.loan, tc.margin)
	}
}

func TestHelperRequestMortgagePullsMarginDeposit(t *testing.T) {
	f := newFixture(t)
	h := newHelper(t, f)
	rec := &events.Recorder{}
	h.SetEmitter(rec)
	require.NoError(t, f.ledger.Mint("MANA", borrower, big.NewInt(100)))
	require.NoError(t, f.ledger.Approve("MANA", borrower, h.Address(), big.NewInt(100)))

	terms := helperTerms()
	sig, err := crypto.SignDigest(borrowerKey, h.LoanIdentifier(borrower, terms, "house"))
	require.NoError(t, err)

	id, loanID, err := h.RequestMortgage(borrower, terms, "house", land, sig)
	require.NoError(t, err)
	require.Equal(t, int64(70), f.balance(t, "MANA", borrower))
	require.Equal(t, int64(30), f.balance(t, "MANA", f.manager.Address()))
	require.Zero(t, f.balance(t, "MANA", h.Address()))

	loan, err := f.engine.Loan(loanID)
	require.NoError(t, err)
	require.True(t, loan.Approved)
	require.Equal(t, borrower, loan.Borrower)
	require.Equal(t, h.Address(), loan.Creator)

	mortgage, err := f.manager.Mortgage(id)
	require.NoError(t, err)
	require.Equal(t, int64(30), mortgage.Deposit.Int64())
	owner, err := f.manager.OwnerOf(id)
	require.NoError(t, err)
	require.Equal(t, borrower, owner)
	require.Len(t, rec.Events(), 1)
	require.Equal(t, EventTypeHelperRequested, rec.Events()[0].EventType())

	// Funding converts 170 MANA worth of RCN and refunds the rest.
	require.NoError(t, f.ledger.Approve("RCN", borrower, f.manager.Address(), big.NewInt(380)))
	require.NoError(t, f.fund(t, f.engine, id, loanID))
	require.Equal(t, int64(40), f.balance(t, "RCN", borrower))
}

func TestHelperRejectsForeignSignature(t *testing.T) {
	f := newFixture(t)
	h := newHelper(t, f)
	require.NoError(t, f.ledger.Mint("MANA", borrower, big.NewInt(100)))
	require.NoError(t, f.ledger.Approve("MANA", borrower, h.Address(), big.NewInt(100)))

	otherKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	terms := helperTerms()
	sig, err := crypto.SignDigest(otherKey, h.LoanIdentifier(borrower, terms, ""))
	require.NoError(t, err)

	_, _, err = h.RequestMortgage(borrower, terms, "", land, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Equal(t, int64(100), f.balance(t, "MANA", borrower))
}

func TestHelperRequestRevertsWithoutFunds(t *testing.T) {
	f := newFixture(t)
	h := newHelper(t, f)
	require.NoError(t, f.ledger.Mint("MANA", borrower, big.NewInt(10)))
	require.NoError(t, f.ledger.Approve("MANA", borrower, h.Address(), big.NewInt(10)))

	terms := helperTerms()
	sig, err := crypto.SignDigest(borrowerKey, h.LoanIdentifier(borrower, terms, ""))
	require.NoError(t, err)
	_, _, err = h.RequestMortgage(borrower, terms, "", land, sig)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// The loan request was rolled back with the rest of the call.
	_, err = f.engine.LoanByIdentifier(h.LoanIdentifier(borrower, terms, ""))
	require.Error(t, err)
	require.Equal(t, int64(10), f.balance(t, "MANA", borrower))
}

func TestHelperRequiresCreatorListing(t *testing.T) {
	f := newFixture(t)
	h := newHelper(t, f)
	require.NoError(t, f.manager.SetCreator(admin, h.Address(), false))
	require.NoError(t, f.ledger.Mint("MANA", borrower, big.NewInt(30)))
	require.NoError(t, f.ledger.Approve("MANA", borrower, h.Address(), big.NewInt(30)))

	terms := helperTerms()
	sig, err := crypto.SignDigest(borrowerKey, h.LoanIdentifier(borrower, terms, ""))
	require.NoError(t, err)
	_, _, err = h.RequestMortgage(borrower, terms, "", land, sig)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestHelperSetMarginSpend(t *testing.T) {
	f := newFixture(t)
	h := newHelper(t, f)
	require.ErrorIs(t, h.SetMarginSpend(borrower, 0), ErrUnauthorized)
	require.NoError(t, h.SetMarginSpend(admin, 2_000))
	require.Equal(t, uint64(2_000), h.Config().MarginSpendBps)

	require.NoError(t, f.ledger.Mint("MANA", borrower, big.NewInt(100)))
	require.NoError(t, f.ledger.Approve("MANA", borrower, h.Address(), big.NewInt(100)))
	terms := helperTerms()
	sig, err := crypto.SignDigest(borrowerKey, h.LoanIdentifier(borrower, terms, ""))
	require.NoError(t, err)
	id, _, err := h.RequestMortgage(borrower, terms, "", land, sig)
	require.NoError(t, err)
	rec, err := f.manager.Mortgage(id)
	require.NoError(t, err)
	require.Equal(t, int64(50), rec.Deposit.Int64())
}

func TestHelperPayConvertsPricingToken(t *testing.T) {
	f := newFixture(t)
	h := newHelper(t, f)
	require.NoError(t, f.ledger.Mint("MANA", borrower, big.NewInt(30)))
	require.NoError(t, f.ledger.Approve("MANA", borrower, h.Address(), big.NewInt(30)))
	terms := helperTerms()
	sig, err := crypto.SignDigest(borrowerKey, h.LoanIdentifier(borrower, terms, ""))
	require.NoError(t, err)
	id, loanID, err := h.RequestMortgage(borrower, terms, "", land, sig)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Approve("RCN", borrower, f.manager.Address(), big.NewInt(380)))
	require.NoError(t, f.fund(t, f.engine, id, loanID))

	require.NoError(t, f.ledger.Mint("MANA", borrower, big.NewInt(250)))
	require.NoError(t, f.ledger.Approve("MANA", borrower, h.Address(), big.NewInt(250)))

	applied, err := h.Pay(borrower, loanID, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, int64(100), applied.Int64())
	owed, err := f.engine.Owed(loanID)
	require.NoError(t, err)
	require.Equal(t, int64(90), owed.Int64())

	// Overpaying converts everything; the unused RCN comes back.
	applied, err = h.Pay(borrower, loanID, big.NewInt(150))
	require.NoError(t, err)
	require.Equal(t, int64(90), applied.Int64())
	require.Equal(t, int64(40+120), f.balance(t, "RCN", borrower))
	require.Zero(t, f.balance(t, "MANA", borrower))
	require.Zero(t, f.balance(t, "RCN", h.Address()))
	require.Zero(t, f.balance(t, "MANA", h.Address()))

	outcome, err := f.manager.Claim(borrower, f.engine.Address(), loanID, nil)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, outcome)
}
