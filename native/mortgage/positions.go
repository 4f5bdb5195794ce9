package mortgage

import (
	"fmt"
	"strconv"

	"mortgagechain/core/events"
	"mortgagechain/core/types"
	"mortgagechain/crypto"
)

// Every mortgage is represented by a transferable position. Holding the
// position entitles its owner to the collateral once the loan is repaid.

// OwnerOf returns the holder of a mortgage position.
func (m *Manager) OwnerOf(id uint64) ([20]byte, error) {
	var owner [20]byte
	if err := m.ready(); err != nil {
		return owner, err
	}
	ok, err := m.state.KVGet(positionOwnerKey(id), &owner)
	if err != nil {
		return owner, err
	}
	if !ok {
		return owner, fmt.Errorf("%w: position %d", ErrMortgageNotFound, id)
	}
	return owner, nil
}

// BalanceOf returns the number of live positions held by owner.
func (m *Manager) BalanceOf(owner [20]byte) (uint64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	var count uint64
	if _, err := m.state.KVGet(positionBalanceKey(owner), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// TotalSupply returns the number of live positions.
func (m *Manager) TotalSupply() (uint64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	var supply uint64
	if _, err := m.state.KVGet(positionSupplyKey, &supply); err != nil {
		return 0, err
	}
	return supply, nil
}

// TransferPosition moves a live position from its holder to a new owner.
func (m *Manager) TransferPosition(caller [20]byte, id uint64, to [20]byte) error {
	if err := m.ready(); err != nil {
		return err
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("%w: empty recipient", ErrUnauthorized)
	}
	return m.state.Atomic(func() error {
		owner, err := m.OwnerOf(id)
		if err != nil {
			return err
		}
		if owner != caller {
			return ErrUnauthorized
		}
		return m.movePosition(id, owner, to)
	})
}

func (m *Manager) adjustCount(key []byte, delta int64) error {
	var count uint64
	if _, err := m.state.KVGet(key, &count); err != nil {
		return err
	}
	if delta < 0 && count < uint64(-delta) {
		return fmt.Errorf("%w: position count underflow", ErrInvalidState)
	}
	count = uint64(int64(count) + delta)
	if count == 0 {
		return m.state.KVDelete(key)
	}
	return m.state.KVPut(key, count)
}

// movePosition is the only writer of position ownership. A zero from mints
// and a zero to burns.
func (m *Manager) movePosition(id uint64, from, to [20]byte) error {
	var zero [20]byte
	if from == to {
		return nil
	}
	if from != zero {
		if err := m.adjustCount(positionBalanceKey(from), -1); err != nil {
			return err
		}
	} else if err := m.adjustCount(positionSupplyKey, 1); err != nil {
		return err
	}
	if to != zero {
		if err := m.adjustCount(positionBalanceKey(to), 1); err != nil {
			return err
		}
		if err := m.state.KVPut(positionOwnerKey(id), to); err != nil {
			return err
		}
	} else {
		if err := m.adjustCount(positionSupplyKey, -1); err != nil {
			return err
		}
		if err := m.state.KVDelete(positionOwnerKey(id)); err != nil {
			return err
		}
	}
	m.emitter.Emit(events.Typed{Evt: &types.Event{Type: EventTypePositionTransferred, Attributes: map[string]string{
		"mortgageId": strconv.FormatUint(id, 10),
		"from":       crypto.Address(from).String(),
		"to":         crypto.Address(to).String(),
	}}})
	return nil
}

