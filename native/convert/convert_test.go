package convert

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"mortgagechain/core/state"
	"mortgagechain/crypto"
	"mortgagechain/native/bank"
	"mortgagechain/storage"
)

var (
	trader   = [20]byte{0x7a}
	operator = [20]byte{0x0b}
)

func newLedger(t *testing.T) (*state.Manager, *bank.Ledger) {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(st)
	require.NoError(t, ledger.RegisterToken(bank.TokenMetadata{Symbol: "MANA"}))
	require.NoError(t, ledger.RegisterToken(bank.TokenMetadata{Symbol: "RCN"}))
	return st, ledger
}

func TestReservePoolQuoteAndConvert(t *testing.T) {
	_, ledger := newLedger(t)
	pool, err := NewReservePool(crypto.ModuleAddress("pool"), "rcn", "mana", 0, ledger)
	require.NoError(t, err)

	require.NoError(t, ledger.Mint("RCN", operator, big.NewInt(10_000)))
	require.NoError(t, ledger.Mint("MANA", operator, big.NewInt(10_000)))
	require.NoError(t, pool.AddLiquidity(operator, big.NewInt(10_000), big.NewInt(10_000)))

	out, err := pool.Quote("RCN", "MANA", big.NewInt(100))
	require.NoError(t, err)
	// 100*10000/(10000+100) = 99.0099...
	require.Equal(t, int64(99), out.Int64())

	require.NoError(t, ledger.Mint("RCN", trader, big.NewInt(100)))
	require.NoError(t, ledger.Approve("RCN", trader, pool.Address(), big.NewInt(100)))

	_, err = pool.Convert(trader, "RCN", "MANA", big.NewInt(100), big.NewInt(100))
	require.ErrorIs(t, err, ErrSlippageExceeded)

	got, err := pool.Convert(trader, "RCN", "MANA", big.NewInt(100), big.NewInt(99))
	require.NoError(t, err)
	require.Equal(t, int64(99), got.Int64())
	bal, err := ledger.BalanceOf("MANA", trader)
	require.NoError(t, err)
	require.Equal(t, int64(99), bal.Int64())

	rate, err := pool.Rate("RCN", "MANA")
	require.NoError(t, err)
	require.Equal(t, -1, rate.Cmp(big.NewRat(1, 1)))
}

func TestReservePoolFeeReducesOutput(t *testing.T) {
	_, ledger := newLedger(t)
	pool, err := NewReservePool(crypto.ModuleAddress("pool-fee"), "RCN", "MANA", 30, ledger)
	require.NoError(t, err)
	require.NoError(t, ledger.Mint("RCN", operator, big.NewInt(1_000_000)))
	require.NoError(t, ledger.Mint("MANA", operator, big.NewInt(1_000_000)))
	require.NoError(t, pool.AddLiquidity(operator, big.NewInt(1_000_000), big.NewInt(1_000_000)))

	out, err := pool.Quote("RCN", "MANA", big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, int64(996), out.Int64())

	_, err = pool.Quote("RCN", "XYZ", big.NewInt(1))
	require.ErrorIs(t, err, ErrUnsupportedPair)
}

func TestOrderBookRates(t *testing.T) {
	st, ledger := newLedger(t)
	book := NewOrderBook(crypto.ModuleAddress("book"), operator, st, ledger)

	require.ErrorIs(t, book.SetDecimalRate(trader, "RCN", "MANA", "0.5"), ErrUnauthorized)
	require.NoError(t, book.SetDecimalRate(operator, "RCN", "MANA", "0.5"))

	_, err := book.Quote("MANA", "RCN", big.NewInt(10))
	require.ErrorIs(t, err, ErrNoRate)

	out, err := book.Quote("RCN", "MANA", big.NewInt(101))
	require.NoError(t, err)
	require.Equal(t, int64(50), out.Int64())

	require.NoError(t, ledger.Mint("RCN", trader, big.NewInt(100)))
	require.NoError(t, ledger.Approve("RCN", trader, book.Address(), big.NewInt(100)))
	_, err = book.Convert(trader, "RCN", "MANA", big.NewInt(100), big.NewInt(50))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	require.NoError(t, ledger.Mint("MANA", book.Address(), big.NewInt(50)))
	got, err := book.Convert(trader, "RCN", "MANA", big.NewInt(100), big.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, int64(50), got.Int64())
}

func TestRegistryRetire(t *testing.T) {
	st, ledger := newLedger(t)
	book := NewOrderBook(crypto.ModuleAddress("book"), operator, st, ledger)
	reg := NewRegistry(st)
	require.NoError(t, reg.Register(book))
	require.Error(t, reg.Register(book))

	got, err := reg.Get(book.Address())
	require.NoError(t, err)
	require.Equal(t, book.Address(), got.Address())

	require.NoError(t, reg.Retire(book.Address()))
	_, err = reg.Get(book.Address())
	require.ErrorIs(t, err, ErrUnknownConverter)

	_, err = reg.Get([20]byte{0xff})
	require.ErrorIs(t, err, ErrUnknownConverter)
	require.Len(t, reg.Addresses(), 1)
}
