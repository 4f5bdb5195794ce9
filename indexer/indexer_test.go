package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"mortgagechain/core/events"
	"mortgagechain/core/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return db
}

func typed(kind string, attrs map[string]string) events.Event {
	return events.Typed{Evt: &types.Event{Type: kind, Attributes: attrs}}
}

func TestHistoryFiltersByMortgageAndLoan(t *testing.T) {
	db := setupTestDB(t)
	ix, err := New(db)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	ix.Emit(typed("mortgage.requested", map[string]string{"mortgageId": "1", "loanId": "7"}))
	ix.Emit(typed("loan.lent", map[string]string{"loanId": "7"}))
	ix.Emit(typed("mortgage.requested", map[string]string{"mortgageId": "2", "loanId": "8"}))
	ix.Emit(typed("mortgage.started", map[string]string{"mortgageId": "1", "loanId": "7"}))

	ctx := context.Background()
	byMortgage, err := ix.History(ctx, Filter{MortgageID: "1"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(byMortgage) != 2 || byMortgage[0].Type != "mortgage.requested" || byMortgage[1].Type != "mortgage.started" {
		t.Fatalf("unexpected mortgage history: %+v", byMortgage)
	}
	if byMortgage[0].Sequence >= byMortgage[1].Sequence {
		t.Fatalf("sequence not increasing: %+v", byMortgage)
	}

	byLoan, err := ix.History(ctx, Filter{LoanID: "7"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(byLoan) != 3 {
		t.Fatalf("expected 3 loan entries, got %d", len(byLoan))
	}
	if byLoan[1].Attributes["loanId"] != "7" {
		t.Fatalf("attributes not decoded: %+v", byLoan[1])
	}

	after, err := ix.History(ctx, Filter{Type: "mortgage.requested", After: byMortgage[0].Sequence})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(after) != 1 || after[0].Attributes["mortgageId"] != "2" {
		t.Fatalf("unexpected page: %+v", after)
	}
}

func TestSequenceResumesAfterReopen(t *testing.T) {
	db := setupTestDB(t)
	first, err := New(db)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	if err := first.Record(context.Background(), typed("loan.created", nil)); err != nil {
		t.Fatalf("record: %v", err)
	}

	second, err := New(db)
	if err != nil {
		t.Fatalf("reopen indexer: %v", err)
	}
	if err := second.Record(context.Background(), typed("loan.approved", nil)); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := second.History(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 || entries[1].Sequence != entries[0].Sequence+1 {
		t.Fatalf("unexpected sequences: %+v", entries)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "dsn"); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open("sqlite", " "); err == nil {
		t.Fatalf("expected missing DSN error")
	}
}
