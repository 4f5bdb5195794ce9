package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"mortgagechain/core/genesis"
	"mortgagechain/native/parcel"
)

// decodeParams unmarshals the first positional parameter into out.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return invalidParams("expected a single parameter object", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func parseBech32Address(field, addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, invalidParams(field+" required", nil)
	}
	parsed, err := genesis.ParseAccount(trimmed)
	if err != nil {
		return [20]byte{}, invalidParams("invalid "+field, err.Error())
	}
	return parsed, nil
}

func parseOptionalAddress(field, addr string) ([20]byte, error) {
	if strings.TrimSpace(addr) == "" {
		return [20]byte{}, nil
	}
	return parseBech32Address(field, addr)
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, err := genesis.ParseAmount(value)
	if err != nil {
		return nil, invalidParams("invalid "+field, err.Error())
	}
	return amount, nil
}

func parsePositiveBigInt(field, value string) (*big.Int, error) {
	amount, err := parseAmount(field, value)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, invalidParams(field+" must be positive", nil)
	}
	return amount, nil
}

func parseHexBytes(field, value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, invalidParams("invalid "+field, err.Error())
	}
	return decoded, nil
}

func parseHash(field, value string) ([32]byte, error) {
	var out [32]byte
	decoded, err := parseHexBytes(field, value)
	if err != nil {
		return out, err
	}
	if len(decoded) != len(out) {
		return out, invalidParams(field+" must be 32 bytes", nil)
	}
	copy(out[:], decoded)
	return out, nil
}

// parcelRef names a parcel either by its hex id or by its coordinates.
type parcelRef struct {
	ID string `json:"id,omitempty"`
	X  *int64 `json:"x,omitempty"`
	Y  *int64 `json:"y,omitempty"`
}

func (p parcelRef) resolve() (parcel.ID, error) {
	if strings.TrimSpace(p.ID) != "" {
		id, err := parcel.ParseID(p.ID)
		if err != nil {
			return parcel.ID{}, invalidParams("invalid parcel id", err.Error())
		}
		return id, nil
	}
	if p.X == nil || p.Y == nil {
		return parcel.ID{}, invalidParams("parcel id or coordinates required", nil)
	}
	return parcel.EncodeParcelID(*p.X, *p.Y), nil
}

func formatHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func formatUint(v uint64) string {
	return fmt.Sprintf("%d", v)
}
