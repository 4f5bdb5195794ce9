package loans

const (
	EventTypeLoanCreated     = "loan.created"
	EventTypeLoanApproved    = "loan.approved"
	EventTypeLoanLent        = "loan.lent"
	EventTypeLoanCosigned    = "loan.cosigned"
	EventTypeLoanPayment     = "loan.payment"
	EventTypeLoanPaid        = "loan.paid"
	EventTypeLoanTransferred = "loan.transferred"
	EventTypeLoanDestroyed   = "loan.destroyed"
)
