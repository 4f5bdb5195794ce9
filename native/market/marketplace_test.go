package market

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"mortgagechain/core/state"
	"mortgagechain/crypto"
	"mortgagechain/native/bank"
	"mortgagechain/native/parcel"
	"mortgagechain/storage"
)

type fixture struct {
	ledger  *bank.Ledger
	parcels *parcel.Registry
	market  *Marketplace
	now     int64
}

var (
	seller = [20]byte{0x51}
	buyer  = [20]byte{0xb1}
	land   = parcel.EncodeParcelID(0, 1)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	f := &fixture{
		ledger:  bank.NewLedger(st),
		parcels: parcel.NewRegistry(st),
		now:     1_000,
	}
	f.market = NewMarketplace(crypto.ModuleAddress("market"), "MANA", st, f.ledger, f.parcels)
	f.market.SetNowFunc(func() int64 { return f.now })
	require.NoError(t, f.ledger.RegisterToken(bank.TokenMetadata{Symbol: "MANA"}))
	require.NoError(t, f.ledger.Mint("MANA", buyer, big.NewInt(500)))
	require.NoError(t, f.parcels.Assign(seller, land))
	require.NoError(t, f.parcels.SetApprovalForAll(seller, f.market.Address(), true))
	return f
}

func TestCreateOrderAndPrice(t *testing.T) {
	f := newFixture(t)
	_, err := f.market.Price(land)
	require.ErrorIs(t, err, ErrNotListed)

	_, err = f.market.CreateOrder(buyer, land, big.NewInt(200), 2_000)
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = f.market.CreateOrder(seller, land, big.NewInt(200), 2_000)
	require.NoError(t, err)
	price, err := f.market.Price(land)
	require.NoError(t, err)
	require.Equal(t, int64(200), price.Int64())

	f.now = 2_000
	_, err = f.market.Price(land)
	require.ErrorIs(t, err, ErrNotListed)
}

func TestExecuteOrderSettles(t *testing.T) {
	f := newFixture(t)
	_, err := f.market.CreateOrder(seller, land, big.NewInt(200), 2_000)
	require.NoError(t, err)

	_, err = f.market.ExecuteOrder(buyer, land, big.NewInt(199))
	require.ErrorIs(t, err, ErrPriceAboveMax)

	require.NoError(t, f.ledger.Approve("MANA", buyer, f.market.Address(), big.NewInt(200)))
	paid, err := f.market.ExecuteOrder(buyer, land, big.NewInt(200))
	require.NoError(t, err)
	require.Equal(t, int64(200), paid.Int64())

	owner, err := f.parcels.OwnerOf(land)
	require.NoError(t, err)
	require.Equal(t, buyer, owner)
	bal, err := f.ledger.BalanceOf("MANA", seller)
	require.NoError(t, err)
	require.Equal(t, int64(200), bal.Int64())

	_, err = f.market.Price(land)
	require.ErrorIs(t, err, ErrNotListed)
}

func TestCancelOrderSellerOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.market.CreateOrder(seller, land, big.NewInt(200), 2_000)
	require.NoError(t, err)
	require.ErrorIs(t, f.market.CancelOrder(buyer, land), ErrNotSeller)
	require.NoError(t, f.market.CancelOrder(seller, land))
	_, err = f.market.Price(land)
	require.ErrorIs(t, err, ErrNotListed)
}
