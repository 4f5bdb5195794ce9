package mortgage

import (
	"encoding/binary"

	"mortgagechain/native/parcel"
)

var (
	nextIDKey         = []byte("mortgage/next-id")
	positionSupplyKey = []byte("mortgage/position/supply")
)

func recordKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte("mortgage/record/"), id)
}

func loanIndexKey(engine [20]byte, loanID uint64) []byte {
	key := append([]byte("mortgage/loan/"), engine[:]...)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, loanID)
}

func custodyKey(collateral parcel.ID) []byte {
	return append([]byte("mortgage/custody/"), collateral[:]...)
}

func positionOwnerKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte("mortgage/position/owner/"), id)
}

func positionBalanceKey(owner [20]byte) []byte {
	return append([]byte("mortgage/position/balance/"), owner[:]...)
}

func creatorKey(addr [20]byte) []byte {
	return append([]byte("mortgage/creator/"), addr[:]...)
}
