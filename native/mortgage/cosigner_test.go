package mortgage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosignerDataLayout(t *testing.T) {
	check := [32]byte{0xaa, 0xbb}
	data := EncodeCosignerData(0x0102, check)
	require.Len(t, data, 41)
	require.Equal(t, byte(1), data[0])
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0x01, 0x02}, data[1:9])

	id, got, err := DecodeCosignerData(data)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102), id)
	require.Equal(t, check, got)

	bad := append([]byte(nil), data...)
	bad[0] = 2
	_, _, err = DecodeCosignerData(bad)
	require.ErrorIs(t, err, ErrInvalidCosignerData)
	_, _, err = DecodeCosignerData(data[:40])
	require.ErrorIs(t, err, ErrInvalidCosignerData)
}

func TestCosignerAdapterIsFree(t *testing.T) {
	f := newFixture(t)
	adapter := NewCosignerAdapter(f.manager)
	require.Equal(t, f.manager.Address(), adapter.Address())
	require.Zero(t, adapter.Cost(f.engine.Address(), 1, nil).Sign())

	err := adapter.RequestCosign(f.engine.Address(), 1, EncodeCosignerData(99, [32]byte{}), nil)
	require.ErrorIs(t, err, ErrMortgageNotFound)
}

func TestStatusStrings(t *testing.T) {
	require.Equal(t, "pending", StatusPending.String())
	require.Equal(t, "ongoing", StatusOngoing.String())
	require.Equal(t, "defaulted", StatusDefaulted.String())
	require.Equal(t, "paid", StatusPaid.String())
	require.False(t, Status(9).Valid())
}
