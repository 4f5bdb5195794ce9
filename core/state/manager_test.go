package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"mortgagechain/storage"
)

type sampleRecord struct {
	ID     uint64
	Amount *big.Int
	Owner  []byte
}

func TestKVRoundTripThroughCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	rec := sampleRecord{ID: 7, Amount: big.NewInt(200), Owner: []byte{0x01}}
	require.NoError(t, mgr.KVPut([]byte("record/7"), rec))
	require.Empty(t, db.Keys())

	var got sampleRecord
	ok, err := mgr.KVGet([]byte("record/7"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), got.ID)

	require.NoError(t, mgr.Commit())
	require.Len(t, db.Keys(), 1)

	fresh := NewManager(db)
	var reloaded sampleRecord
	ok, err = fresh.KVGet([]byte("record/7"), &reloaded)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, reloaded.Amount.Cmp(big.NewInt(200)))
}

func TestKVDeleteHidesCommittedValue(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.KVPut([]byte("k"), uint64(1)))
	require.NoError(t, mgr.Commit())

	require.NoError(t, mgr.KVDelete([]byte("k")))
	ok, err := mgr.KVGet([]byte("k"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.Commit())
	require.Empty(t, db.Keys())
}

func TestAtomicRevertsNestedFailure(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	boom := errors.New("boom")

	err := mgr.Atomic(func() error {
		if err := mgr.KVPut([]byte("outer"), uint64(1)); err != nil {
			return err
		}
		inner := mgr.Atomic(func() error {
			if err := mgr.KVPut([]byte("outer"), uint64(2)); err != nil {
				return err
			}
			if err := mgr.KVPut([]byte("inner"), uint64(3)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, inner, boom)
		return nil
	})
	require.NoError(t, err)

	var value uint64
	ok, err := mgr.KVGet([]byte("outer"), &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), value)

	ok, err = mgr.KVGet([]byte("inner"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAtomicRevertsOnPanic(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.Panics(t, func() {
		_ = mgr.Atomic(func() error {
			_ = mgr.KVPut([]byte("k"), uint64(9))
			panic("fault")
		})
	})
	require.Equal(t, 0, mgr.Pending())
}

func TestDiscardDropsOverlay(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.KVPut([]byte("k"), uint64(1)))
	mgr.Discard()
	require.NoError(t, mgr.Commit())
	require.Empty(t, db.Keys())
}

func TestEnsureStateVersion(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.EnsureStateVersion())
	require.NoError(t, mgr.EnsureStateVersion())

	require.NoError(t, mgr.SetStateVersion(StateVersion+1))
	err := mgr.EnsureStateVersion()
	require.ErrorIs(t, err, ErrStateVersionMismatch)
}
