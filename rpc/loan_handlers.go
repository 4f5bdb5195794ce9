package rpc

import (
	"context"
	"math/big"
	"strings"

	"mortgagechain/crypto"
	"mortgagechain/native/loans"
)

type loanTermsJSON struct {
	Oracle       string `json:"oracle,omitempty"`
	Currency     string `json:"currency"`
	Amount       string `json:"amount"`
	InterestBps  uint64 `json:"interestBps,omitempty"`
	PunitoryBps  uint64 `json:"punitoryBps,omitempty"`
	DuesIn       uint64 `json:"duesIn"`
	CancelableAt uint64 `json:"cancelableAt,omitempty"`
	ExpiresAt    uint64 `json:"expiresAt"`
}

func (t loanTermsJSON) params() (loans.Params, error) {
	oracle, err := parseOptionalAddress("oracle", t.Oracle)
	if err != nil {
		return loans.Params{}, err
	}
	amount, err := parsePositiveBigInt("amount", t.Amount)
	if err != nil {
		return loans.Params{}, err
	}
	return loans.Params{
		Oracle:       oracle,
		Currency:     strings.ToUpper(strings.TrimSpace(t.Currency)),
		Amount:       amount,
		InterestBps:  t.InterestBps,
		PunitoryBps:  t.PunitoryBps,
		DuesIn:       t.DuesIn,
		CancelableAt: t.CancelableAt,
		ExpiresAt:    t.ExpiresAt,
	}, nil
}

type loanCreateParams struct {
	loanTermsJSON
	Borrower string `json:"borrower,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

type loanRefParams struct {
	LoanID     uint64 `json:"loanId,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

type loanRegisterApproveParams struct {
	Identifier string `json:"identifier"`
	Signature  string `json:"signature"`
}

type loanLendParams struct {
	LoanID       uint64 `json:"loanId"`
	OracleData   string `json:"oracleData,omitempty"`
	Cosigner     string `json:"cosigner,omitempty"`
	CosignerData string `json:"cosignerData,omitempty"`
	// MortgageID fills Cosigner and CosignerData from the mortgage manager.
	MortgageID uint64 `json:"mortgageId,omitempty"`
}

type loanPayParams struct {
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

type loanTransferParams struct {
	LoanID uint64 `json:"loanId"`
	To     string `json:"to"`
}

type loanJSON struct {
	ID         uint64   `json:"id"`
	Identifier string   `json:"identifier"`
	Engine     string   `json:"engine"`
	Token      string   `json:"token"`
	Borrower   string   `json:"borrower"`
	Creator    string   `json:"creator"`
	Lender     string   `json:"lender,omitempty"`
	Cosigner   string   `json:"cosigner,omitempty"`
	Status     string   `json:"status"`
	Approved   bool     `json:"approved"`
	Currency   string   `json:"currency"`
	Amount     *big.Int `json:"amount"`
	Paid       *big.Int `json:"paid"`
	Owed       *big.Int `json:"owed,omitempty"`
	Defaulted  bool     `json:"defaulted"`
	Metadata   string   `json:"metadata,omitempty"`
	DueTime    uint64   `json:"dueTime,omitempty"`
	ExpiresAt  uint64   `json:"expiresAt"`
	CreatedAt  uint64   `json:"createdAt"`
	LentAt     uint64   `json:"lentAt,omitempty"`
}

func formatOptional(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.Address(addr).String()
}

func (s *Server) registerLoans() {
	s.register("loan_get", "loans", false, s.handleLoanGet)
	s.register("loan_identifier", "loans", false, s.handleLoanIdentifier)
	s.register("loan_create", "loans", true, s.handleLoanCreate)
	s.register("loan_approve", "loans", true, s.handleLoanApprove)
	s.register("loan_registerApprove", "loans", true, s.handleLoanRegisterApprove)
	s.register("loan_lend", "loans", true, s.handleLoanLend)
	s.register("loan_pay", "loans", true, s.handleLoanPay)
	s.register("loan_transfer", "loans", true, s.handleLoanTransfer)
	s.register("loan_destroy", "loans", true, s.handleLoanDestroy)
}

func (s *Server) loanJSON(loan *loans.Loan) (loanJSON, error) {
	engine := s.node.Engine()
	out := loanJSON{
		ID:         loan.ID,
		Identifier: formatHex(loan.Identifier[:]),
		Engine:     crypto.Address(engine.Address()).String(),
		Token:      engine.Token(),
		Borrower:   crypto.Address(loan.Borrower).String(),
		Creator:    crypto.Address(loan.Creator).String(),
		Lender:     formatOptional(loan.Lender),
		Cosigner:   formatOptional(loan.Cosigner),
		Status:     loan.Status.String(),
		Approved:   loan.Approved,
		Currency:   loan.Params.Currency,
		Amount:     loan.Params.Amount,
		Paid:       loan.Paid,
		Metadata:   loan.Metadata,
		DueTime:    loan.DueTime,
		ExpiresAt:  loan.Params.ExpiresAt,
		CreatedAt:  loan.CreatedAt,
		LentAt:     loan.LentAt,
	}
	if loan.Status == loans.StatusLent {
		owed, err := engine.Owed(loan.ID)
		if err != nil {
			return out, err
		}
		out.Owed = owed
		defaulted, err := engine.IsDefaulted(loan.ID)
		if err != nil {
			return out, err
		}
		out.Defaulted = defaulted
	}
	return out, nil
}

func (s *Server) handleLoanGet(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanRefParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	var identifier [32]byte
	if params.Identifier != "" {
		var err error
		if identifier, err = parseHash("identifier", params.Identifier); err != nil {
			return nil, err
		}
	} else if params.LoanID == 0 {
		return nil, invalidParams("loanId or identifier required", nil)
	}
	var out loanJSON
	err := s.query(func() error {
		var (
			loan *loans.Loan
			err  error
		)
		if params.Identifier != "" {
			loan, err = s.node.Engine().LoanByIdentifier(identifier)
		} else {
			loan, err = s.node.Engine().Loan(params.LoanID)
		}
		if err != nil {
			return err
		}
		out, err = s.loanJSON(loan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// handleLoanIdentifier returns the digest a borrower signs to approve a
// request with these terms.
func (s *Server) handleLoanIdentifier(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanCreateParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	borrower, err := parseBech32Address("borrower", params.Borrower)
	if err != nil {
		return nil, err
	}
	creator, err := parseBech32Address("creator", params.Creator)
	if err != nil {
		return nil, err
	}
	terms, err := params.params()
	if err != nil {
		return nil, err
	}
	identifier := s.node.Engine().BuildIdentifier(borrower, creator, terms, params.Metadata)
	return map[string]string{"identifier": formatHex(identifier[:])}, nil
}

func (s *Server) handleLoanCreate(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanCreateParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	borrower := caller
	if params.Borrower != "" {
		var err error
		if borrower, err = parseBech32Address("borrower", params.Borrower); err != nil {
			return nil, err
		}
	}
	terms, err := params.params()
	if err != nil {
		return nil, err
	}
	var out loanJSON
	err = s.execute(ctx, req, caller, func() error {
		loan, err := s.node.Engine().CreateLoan(caller, borrower, terms, params.Metadata)
		if err != nil {
			return err
		}
		out, err = s.loanJSON(loan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleLoanApprove(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanRefParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	err := s.execute(ctx, req, caller, func() error {
		return s.node.Engine().Approve(caller, params.LoanID)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"loanId": params.LoanID, "approved": true}, nil
}

func (s *Server) handleLoanRegisterApprove(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanRegisterApproveParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	identifier, err := parseHash("identifier", params.Identifier)
	if err != nil {
		return nil, err
	}
	sig, err := parseHexBytes("signature", params.Signature)
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, req, caller, func() error {
		return s.node.Engine().RegisterApprove(identifier, sig)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"identifier": params.Identifier, "approved": true}, nil
}

func (s *Server) handleLoanLend(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanLendParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	oracleData, err := parseHexBytes("oracleData", params.OracleData)
	if err != nil {
		return nil, err
	}
	cosigner, err := parseOptionalAddress("cosigner", params.Cosigner)
	if err != nil {
		return nil, err
	}
	cosignerData, err := parseHexBytes("cosignerData", params.CosignerData)
	if err != nil {
		return nil, err
	}
	var out loanJSON
	err = s.execute(ctx, req, caller, func() error {
		if params.MortgageID != 0 {
			data, err := s.node.Manager().GetData(params.MortgageID)
			if err != nil {
				return err
			}
			cosigner = s.node.Manager().Address()
			cosignerData = data
		}
		engine := s.node.Engine()
		if err := engine.Lend(caller, params.LoanID, oracleData, cosigner, cosignerData); err != nil {
			return err
		}
		loan, err := engine.Loan(params.LoanID)
		if err != nil {
			return err
		}
		out, err = s.loanJSON(loan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleLoanPay(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanPayParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	amount, err := parsePositiveBigInt("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	var applied *big.Int
	err = s.execute(ctx, req, caller, func() error {
		var err error
		applied, err = s.node.Engine().Pay(caller, params.LoanID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"loanId": params.LoanID, "applied": applied}, nil
}

func (s *Server) handleLoanTransfer(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanTransferParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	to, err := parseBech32Address("to", params.To)
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, req, caller, func() error {
		return s.node.Engine().TransferLoan(caller, params.LoanID, to)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"loanId": params.LoanID, "lender": params.To}, nil
}

func (s *Server) handleLoanDestroy(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params loanRefParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	err := s.execute(ctx, req, caller, func() error {
		return s.node.Engine().Destroy(caller, params.LoanID)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"loanId": params.LoanID, "status": loans.StatusDestroyed.String()}, nil
}
