package mortgage

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

const (
	cosignerDataVersion = 1
	cosignerDataLength  = 1 + 8 + 32
)

// EncodeCosignerData lays out version | id (uint64 big endian) | check.
func EncodeCosignerData(id uint64, check [32]byte) []byte {
	out := make([]byte, 0, cosignerDataLength)
	out = append(out, cosignerDataVersion)
	out = binary.BigEndian.AppendUint64(out, id)
	return append(out, check[:]...)
}

// DecodeCosignerData reverses EncodeCosignerData.
func DecodeCosignerData(data []byte) (uint64, [32]byte, error) {
	var check [32]byte
	if len(data) != cosignerDataLength {
		return 0, check, fmt.Errorf("%w: length %d", ErrInvalidCosignerData, len(data))
	}
	if data[0] != cosignerDataVersion {
		return 0, check, fmt.Errorf("%w: version %d", ErrInvalidCosignerData, data[0])
	}
	id := binary.BigEndian.Uint64(data[1:9])
	copy(check[:], data[9:])
	return id, check, nil
}

// CosignerAdapter lets the loan engine reach the manager at funding time.
type CosignerAdapter struct {
	manager *Manager
}

func NewCosignerAdapter(manager *Manager) *CosignerAdapter {
	return &CosignerAdapter{manager: manager}
}

func (c *CosignerAdapter) Address() [20]byte { return c.manager.Address() }

// Cost is what the manager charges lenders for cosigning: nothing.
func (c *CosignerAdapter) Cost(engine [20]byte, loanID uint64, data []byte) *big.Int {
	return big.NewInt(0)
}

// RequestCosign decodes the mortgage id from data and runs the funding
// callback. engine is the caller as identified by the loan engine.
func (c *CosignerAdapter) RequestCosign(engine [20]byte, loanID uint64, data, oracleData []byte) error {
	id, _, err := DecodeCosignerData(data)
	if err != nil {
		return err
	}
	return c.manager.OnLoanFunded(engine, id, FundingContext{LoanID: loanID, Data: data, OracleData: oracleData})
}
