package parcel

import (
	"testing"

	"mortgagechain/core/state"
	"mortgagechain/storage"
)

func TestEncodeParcelIDRoundTrip(t *testing.T) {
	cases := [][2]int64{{0, 0}, {1, 2}, {-150, 150}, {-1, -1}}
	for _, c := range cases {
		id := EncodeParcelID(c[0], c[1])
		x, y := DecodeParcelID(id)
		if x != c[0] || y != c[1] {
			t.Fatalf("round trip (%d,%d) -> (%d,%d)", c[0], c[1], x, y)
		}
		parsed, err := ParseID(id.String())
		if err != nil || parsed != id {
			t.Fatalf("parse %s: %v", id, err)
		}
	}
	if EncodeParcelID(1, 2) == EncodeParcelID(2, 1) {
		t.Fatalf("coordinates collide")
	}
}

func TestTransferRequiresOwnerOrOperator(t *testing.T) {
	reg := NewRegistry(state.NewManager(storage.NewMemDB()))
	owner := [20]byte{1}
	operator := [20]byte{2}
	buyer := [20]byte{3}
	id := EncodeParcelID(0, 1)

	if err := reg.Assign(owner, id); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := reg.Assign(buyer, id); err == nil {
		t.Fatalf("expected double assign to fail")
	}
	if err := reg.Transfer(operator, owner, buyer, id); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := reg.SetApprovalForAll(owner, operator, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := reg.Transfer(operator, owner, buyer, id); err != nil {
		t.Fatalf("operator transfer: %v", err)
	}
	got, err := reg.OwnerOf(id)
	if err != nil || got != buyer {
		t.Fatalf("unexpected owner %x: %v", got, err)
	}
	if err := reg.Transfer(buyer, owner, buyer, id); err != ErrWrongOwner {
		t.Fatalf("expected ErrWrongOwner, got %v", err)
	}
}
