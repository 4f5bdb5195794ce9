package rpc

import (
	"context"
	"log/slog"
	"math/big"

	"mortgagechain/crypto"
	"mortgagechain/native/mortgage"
	"mortgagechain/observability/logging"
)

type helperTermsJSON struct {
	Amount       string `json:"amount"`
	InterestBps  uint64 `json:"interestBps,omitempty"`
	PunitoryBps  uint64 `json:"punitoryBps,omitempty"`
	DuesIn       uint64 `json:"duesIn"`
	CancelableAt uint64 `json:"cancelableAt,omitempty"`
	ExpiresAt    uint64 `json:"expiresAt"`
}

func (t helperTermsJSON) params() (mortgage.LoanParams, error) {
	amount, err := parsePositiveBigInt("amount", t.Amount)
	if err != nil {
		return mortgage.LoanParams{}, err
	}
	return mortgage.LoanParams{
		Amount:       amount,
		InterestBps:  t.InterestBps,
		PunitoryBps:  t.PunitoryBps,
		DuesIn:       t.DuesIn,
		CancelableAt: t.CancelableAt,
		ExpiresAt:    t.ExpiresAt,
	}, nil
}

type helperRequestParams struct {
	helperTermsJSON
	Parcel    parcelRef `json:"parcel"`
	Borrower  string    `json:"borrower,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	Signature string    `json:"signature,omitempty"`
}

type helperDepositParams struct {
	Parcel parcelRef `json:"parcel"`
	Amount string    `json:"amount"`
}

type helperPayParams struct {
	LoanID uint64 `json:"loanId"`
	Amount string `json:"amount"`
}

type marginParams struct {
	MarginSpendBps uint64 `json:"marginSpendBps"`
}

func (s *Server) registerHelper() {
	s.register("helper_identifier", "helper", false, s.handleHelperIdentifier)
	s.register("helper_requiredDeposit", "helper", false, s.handleHelperRequiredDeposit)
	s.register("helper_requestMortgage", "helper", true, s.handleHelperRequestMortgage)
	s.register("helper_pay", "helper", true, s.handleHelperPay)
	s.register("helper_setMarginSpend", "helper", true, s.handleHelperSetMarginSpend)
}

// handleHelperIdentifier returns the loan identifier a borrower signs before
// calling helper_requestMortgage with the same terms.
func (s *Server) handleHelperIdentifier(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params helperRequestParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	borrower, err := parseBech32Address("borrower", params.Borrower)
	if err != nil {
		return nil, err
	}
	terms, err := params.params()
	if err != nil {
		return nil, err
	}
	identifier := s.node.Helper().LoanIdentifier(borrower, terms, params.Metadata)
	return map[string]string{"identifier": formatHex(identifier[:])}, nil
}

func (s *Server) handleHelperRequiredDeposit(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params helperDepositParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := params.Parcel.resolve()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	var price *big.Int
	err = s.query(func() error {
		var err error
		price, err = s.node.Market().Price(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	margin := s.node.Helper().Config().MarginSpendBps
	return map[string]interface{}{
		"price":          price,
		"marginSpendBps": margin,
		"deposit":        mortgage.RequiredDeposit(price, amount, margin),
	}, nil
}

func (s *Server) handleHelperRequestMortgage(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params helperRequestParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	collateral, err := params.Parcel.resolve()
	if err != nil {
		return nil, err
	}
	terms, err := params.params()
	if err != nil {
		return nil, err
	}
	sig, err := parseHexBytes("signature", params.Signature)
	if err != nil {
		return nil, err
	}
	var out mortgageJSON
	err = s.execute(ctx, req, caller, func() error {
		id, _, err := s.node.Helper().RequestMortgage(caller, terms, params.Metadata, collateral, sig)
		if err != nil {
			return err
		}
		rec, err := s.node.Manager().Mortgage(id)
		if err != nil {
			return err
		}
		out = s.mortgageJSON(rec)
		return nil
	})
	if err != nil {
		s.logger.Warn("helper mortgage request rejected",
			slog.String("caller", crypto.Address(caller).String()),
			slog.String("requestid", requestIDFrom(ctx)),
			logging.MaskField("signature", params.Signature),
			slog.String("error", err.Error()))
		return nil, err
	}
	return out, nil
}

func (s *Server) handleHelperPay(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params helperPayParams
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
		applied, err = s.node.Helper().Pay(caller, params.LoanID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"loanId": params.LoanID, "applied": applied}, nil
}

func (s *Server) handleHelperSetMarginSpend(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params marginParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	err := s.execute(ctx, req, caller, func() error {
		return s.node.Helper().SetMarginSpend(caller, params.MarginSpendBps)
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}
