package loans

import (
	"encoding/binary"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// BuildIdentifier hashes every term of a request together with the engine,
// borrower and creator addresses. The borrower approves a request by signing
// this value.
func BuildIdentifier(engine, borrower, creator [20]byte, params Params, metadata string) [32]byte {
	buf := make([]byte, 0, 4*20+32+32+5*8+len(metadata))
	buf = append(buf, engine[:]...)
	buf = append(buf, params.Oracle[:]...)
	buf = append(buf, borrower[:]...)
	buf = append(buf, creator[:]...)

	var currency [32]byte
	copy(currency[:], strings.ToUpper(strings.TrimSpace(params.Currency)))
	buf = append(buf, currency[:]...)

	var amount [32]byte
	if params.Amount != nil && params.Amount.Sign() > 0 && params.Amount.BitLen() <= 256 {
		params.Amount.FillBytes(amount[:])
	}
	buf = append(buf, amount[:]...)

	buf = binary.BigEndian.AppendUint64(buf, params.InterestBps)
	buf = binary.BigEndian.AppendUint64(buf, params.PunitoryBps)
	buf = binary.BigEndian.AppendUint64(buf, params.DuesIn)
	buf = binary.BigEndian.AppendUint64(buf, params.CancelableAt)
	buf = binary.BigEndian.AppendUint64(buf, params.ExpiresAt)
	buf = append(buf, metadata...)

	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(buf))
	return out
}
