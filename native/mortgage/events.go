package mortgage

import (
	"strconv"

	"mortgagechain/core/events"
	"mortgagechain/core/types"
	"mortgagechain/crypto"
)

const (
	EventTypeRequested           = "mortgage.requested"
	EventTypeCancelled           = "mortgage.cancelled"
	EventTypeStarted             = "mortgage.started"
	EventTypePaid                = "mortgage.paid"
	EventTypeDefaulted           = "mortgage.defaulted"
	EventTypePositionTransferred = "mortgage.position.transferred"
	EventTypeHelperRequested     = "mortgage.helper.requested"
	EventTypeHelperPaid          = "mortgage.helper.paid"
)

func addrString(addr [20]byte) string { return crypto.Address(addr).String() }

// NewMortgageEvent renders the canonical payload for a mortgage record.
func NewMortgageEvent(eventType string, rec *Mortgage, extra map[string]string) *types.Event {
	attrs := make(map[string]string, 10+len(extra))
	if rec != nil {
		attrs["mortgageId"] = strconv.FormatUint(rec.ID, 10)
		attrs["borrower"] = addrString(rec.Borrower)
		attrs["engine"] = addrString(rec.Engine)
		attrs["loanId"] = strconv.FormatUint(rec.LoanID, 10)
		attrs["deposit"] = cloneBig(rec.Deposit).String()
		attrs["collateral"] = rec.CollateralID.String()
		attrs["collateralCost"] = cloneBig(rec.CollateralCost).String()
		attrs["status"] = rec.Status.String()
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func (m *Manager) emit(eventType string, rec *Mortgage, extra map[string]string) {
	m.emitter.Emit(events.Typed{Evt: NewMortgageEvent(eventType, rec, extra)})
}
