package events

import (
	"math/big"
	"testing"

	"mortgagechain/core/types"
)

func TestTransferEventAttributes(t *testing.T) {
	evt := Render(Transfer{Asset: "mana", From: [20]byte{1}, To: [20]byte{2}, Amount: big.NewInt(40)})
	if evt.Type != TypeTransfer {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["asset"] != "MANA" {
		t.Fatalf("unexpected asset attr: %s", evt.Attributes["asset"])
	}
	if evt.Attributes["amount"] != "40" {
		t.Fatalf("unexpected amount attr: %s", evt.Attributes["amount"])
	}
}

func TestRecorderTruncate(t *testing.T) {
	var rec Recorder
	rec.Emit(Typed{Evt: &types.Event{Type: "a"}})
	mark := rec.Mark()
	rec.Emit(Typed{Evt: &types.Event{Type: "b"}})
	rec.Truncate(mark)
	drained := rec.Drain()
	if len(drained) != 1 || drained[0].EventType() != "a" {
		t.Fatalf("unexpected events: %+v", drained)
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("drain did not empty the buffer")
	}
}

func TestFanoutDeliversToAll(t *testing.T) {
	var a, b Recorder
	Fanout{&a, nil, &b}.Emit(Typed{Evt: &types.Event{Type: "x"}})
	if a.Mark() != 1 || b.Mark() != 1 {
		t.Fatalf("fanout missed an emitter")
	}
}

func TestRenderReturnsIndependentCopy(t *testing.T) {
	original := &types.Event{Type: "mortgage.started", Attributes: map[string]string{"mortgageId": "7"}}
	rendered := Render(Typed{Evt: original})
	rendered.Attributes["mortgageId"] = "8"
	if original.Attr("mortgageId") != "7" {
		t.Fatalf("render leaked a shared attribute map")
	}
	if rendered.Attr("missing") != "" {
		t.Fatalf("absent attribute should be empty")
	}
}
