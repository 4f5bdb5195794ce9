package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mortgagechain/core/events"
	"mortgagechain/core/types"
)

func TestEventsCountMortgageTransitions(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.mortgages.WithLabelValues("started"))
	m.Emit(events.Typed{Evt: &types.Event{Type: "mortgage.started"}})
	m.Emit(events.Typed{Evt: &types.Event{Type: "mortgage.position.transferred"}})
	m.Emit(nil)

	if got := testutil.ToFloat64(m.mortgages.WithLabelValues("started")); got != before+1 {
		t.Fatalf("expected one started transition, got %v", got-before)
	}
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("mortgage.position.transferred")); got < 1 {
		t.Fatalf("position transfer not counted")
	}
}

func TestTransactionsObserveOutcome(t *testing.T) {
	m := Transactions()
	m.Observe("mortgage_claim", nil, time.Millisecond)
	m.Observe("mortgage_claim", errors.New("boom"), time.Millisecond)
	if got := testutil.ToFloat64(m.executed.WithLabelValues("mortgage_claim", "reverted")); got < 1 {
		t.Fatalf("reverted transaction not counted")
	}
	ModuleMetrics().Observe("mortgage", "open", -32000, time.Millisecond)
	if got := testutil.ToFloat64(ModuleMetrics().errors.WithLabelValues("mortgage", "open", "-32000")); got < 1 {
		t.Fatalf("rpc error not counted")
	}
}
