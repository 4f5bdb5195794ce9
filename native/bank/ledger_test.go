package bank

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"mortgagechain/core/events"
	"mortgagechain/core/state"
	"mortgagechain/storage"
)

var (
	alice = [20]byte{0xa1}
	bob   = [20]byte{0xb0}
	carol = [20]byte{0xc0}
)

func newTestLedger(t *testing.T) (*Ledger, *events.Recorder) {
	t.Helper()
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	rec := new(events.Recorder)
	ledger.SetEmitter(rec)
	require.NoError(t, ledger.RegisterToken(TokenMetadata{Symbol: "mana", Name: "Decentraland MANA", Decimals: 18, MintAuthority: alice}))
	return ledger, rec
}

func TestRegisterTokenRejectsDuplicates(t *testing.T) {
	ledger, _ := newTestLedger(t)
	err := ledger.RegisterToken(TokenMetadata{Symbol: "MANA"})
	require.ErrorIs(t, err, ErrTokenExists)
	require.True(t, ledger.TokenExists(" Mana "))
	require.False(t, ledger.TokenExists("RCN"))
}

func TestMintAndTransfer(t *testing.T) {
	ledger, rec := newTestLedger(t)
	require.NoError(t, ledger.Mint("MANA", alice, big.NewInt(100)))
	require.NoError(t, ledger.Transfer("MANA", alice, bob, big.NewInt(40)))

	bal, err := ledger.BalanceOf("MANA", alice)
	require.NoError(t, err)
	require.Equal(t, int64(60), bal.Int64())
	bal, err = ledger.BalanceOf("MANA", bob)
	require.NoError(t, err)
	require.Equal(t, int64(40), bal.Int64())

	supply, err := ledger.TotalSupply("MANA")
	require.NoError(t, err)
	require.Equal(t, int64(100), supply.Int64())

	err = ledger.Transfer("MANA", bob, alice, big.NewInt(41))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	require.Len(t, rec.Events(), 2)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	require.NoError(t, ledger.Mint("MANA", alice, big.NewInt(100)))
	require.NoError(t, ledger.Approve("MANA", alice, bob, big.NewInt(30)))

	err := ledger.TransferFrom("MANA", bob, alice, carol, big.NewInt(31))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, ledger.TransferFrom("MANA", bob, alice, carol, big.NewInt(30)))
	left, err := ledger.Allowance("MANA", alice, bob)
	require.NoError(t, err)
	require.Zero(t, left.Sign())
	bal, err := ledger.BalanceOf("MANA", carol)
	require.NoError(t, err)
	require.Equal(t, int64(30), bal.Int64())
}

func TestMintAsRequiresAuthority(t *testing.T) {
	ledger, _ := newTestLedger(t)
	require.ErrorIs(t, ledger.MintAs(bob, "MANA", bob, big.NewInt(1)), ErrMintUnauthorized)
	require.NoError(t, ledger.MintAs(alice, "MANA", bob, big.NewInt(1)))
}

func TestMintRejectsOverflow(t *testing.T) {
	ledger, _ := newTestLedger(t)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.NoError(t, ledger.Mint("MANA", alice, max))
	require.ErrorIs(t, ledger.Mint("MANA", bob, big.NewInt(1)), ErrBalanceOverflow)
}

func TestUnknownTokenAndNegativeAmount(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, err := ledger.BalanceOf("RCN", alice)
	require.ErrorIs(t, err, ErrUnknownToken)
	require.ErrorIs(t, ledger.Transfer("MANA", alice, bob, big.NewInt(-1)), ErrInvalidAmount)
}
