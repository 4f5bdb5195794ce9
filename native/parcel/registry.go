package parcel

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"mortgagechain/core/events"
	"mortgagechain/core/types"
)

// ID identifies a land parcel. Coordinates are packed by EncodeParcelID.
type ID [32]byte

func (id ID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// ParseID decodes a 0x-prefixed 32 byte hex identifier.
func ParseID(s string) (ID, error) {
	var id ID
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("parcel: decode id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("parcel: id must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

var (
	ErrParcelNotFound = errors.New("parcel: not found")
	ErrAlreadyOwned   = errors.New("parcel: already assigned")
	ErrNotAuthorized  = errors.New("parcel: caller is neither owner nor operator")
	ErrWrongOwner     = errors.New("parcel: from is not the current owner")
	errNilState       = errors.New("parcel: state not configured")

	two128 = new(big.Int).Lsh(big.NewInt(1), 128)
)

const (
	EventTypeAssigned    = "parcel.assigned"
	EventTypeTransferred = "parcel.transferred"
)

// EncodeParcelID packs the signed coordinates as two 128-bit two's complement
// halves: x in the high half and y in the low half.
func EncodeParcelID(x, y int64) ID {
	var id ID
	half := func(v int64) []byte {
		n := big.NewInt(v)
		if n.Sign() < 0 {
			n.Add(n, two128)
		}
		out := make([]byte, 16)
		n.FillBytes(out)
		return out
	}
	copy(id[:16], half(x))
	copy(id[16:], half(y))
	return id
}

// DecodeParcelID reverses EncodeParcelID.
func DecodeParcelID(id ID) (int64, int64) {
	half := func(b []byte) int64 {
		n := new(big.Int).SetBytes(b)
		if b[0]&0x80 != 0 {
			n.Sub(n, two128)
		}
		return n.Int64()
	}
	return half(id[:16]), half(id[16:])
}

type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Registry records parcel ownership and operator approvals.
type Registry struct {
	state   KVStore
	emitter events.Emitter
}

func NewRegistry(state KVStore) *Registry {
	return &Registry{state: state, emitter: events.NoopEmitter{}}
}

func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func ownerKey(id ID) []byte { return append([]byte("parcel/owner/"), id[:]...) }

func operatorKey(owner, operator [20]byte) []byte {
	key := append([]byte("parcel/operator/"), owner[:]...)
	return append(key, operator[:]...)
}

// Assign gives an unowned parcel to owner.
func (r *Registry) Assign(owner [20]byte, id ID) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	ok, err := r.state.KVGet(ownerKey(id), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyOwned, id)
	}
	if err := r.state.KVPut(ownerKey(id), owner); err != nil {
		return err
	}
	r.emit(EventTypeAssigned, id, [20]byte{}, owner)
	return nil
}

// OwnerOf returns the current holder of a parcel.
func (r *Registry) OwnerOf(id ID) ([20]byte, error) {
	var owner [20]byte
	if r == nil || r.state == nil {
		return owner, errNilState
	}
	ok, err := r.state.KVGet(ownerKey(id), &owner)
	if err != nil {
		return owner, err
	}
	if !ok {
		return owner, fmt.Errorf("%w: %s", ErrParcelNotFound, id)
	}
	return owner, nil
}

// SetApprovalForAll lets operator move every parcel owner holds.
func (r *Registry) SetApprovalForAll(owner, operator [20]byte, approved bool) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if !approved {
		return r.state.KVDelete(operatorKey(owner, operator))
	}
	return r.state.KVPut(operatorKey(owner, operator), true)
}

// IsApprovedForAll reports whether operator may act for owner.
func (r *Registry) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	var approved bool
	ok, err := r.state.KVGet(operatorKey(owner, operator), &approved)
	if err != nil {
		return false, err
	}
	return ok && approved, nil
}

// Transfer moves a parcel from its owner to a new holder. The caller must be
// the owner or an approved operator.
func (r *Registry) Transfer(caller, from, to [20]byte, id ID) error {
	owner, err := r.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrWrongOwner
	}
	if caller != owner {
		approved, err := r.IsApprovedForAll(owner, caller)
		if err != nil {
			return err
		}
		if !approved {
			return ErrNotAuthorized
		}
	}
	if err := r.state.KVPut(ownerKey(id), to); err != nil {
		return err
	}
	r.emit(EventTypeTransferred, id, from, to)
	return nil
}

func (r *Registry) emit(eventType string, id ID, from, to [20]byte) {
	x, y := DecodeParcelID(id)
	r.emitter.Emit(events.Typed{Evt: &types.Event{Type: eventType, Attributes: map[string]string{
		"parcel": id.String(),
		"x":      fmt.Sprintf("%d", x),
		"y":      fmt.Sprintf("%d", y),
		"from":   hex.EncodeToString(from[:]),
		"to":     hex.EncodeToString(to[:]),
	}}})
}
