package rpc

import (
	"context"
	"errors"
	"math/big"

	"mortgagechain/crypto"
	"mortgagechain/indexer"
	"mortgagechain/native/mortgage"
	"mortgagechain/native/parcel"
)

type mortgageOpenParams struct {
	parcelRef
	Engine     string `json:"engine,omitempty"`
	LoanID     uint64 `json:"loanId,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Deposit    string `json:"deposit"`
	Converter  string `json:"converter,omitempty"`
}

type mortgageRefParams struct {
	ID     uint64     `json:"id,omitempty"`
	LoanID uint64     `json:"loanId,omitempty"`
	Engine string     `json:"engine,omitempty"`
	Parcel *parcelRef `json:"parcel,omitempty"`
}

type mortgageTransferParams struct {
	ID uint64 `json:"id"`
	To string `json:"to"`
}

type mortgageClaimParams struct {
	Engine string `json:"engine,omitempty"`
	LoanID uint64 `json:"loanId"`
	Proof  string `json:"proof,omitempty"`
}

type positionsParams struct {
	Owner string `json:"owner"`
}

type historyParams struct {
	ID     uint64 `json:"id,omitempty"`
	LoanID uint64 `json:"loanId,omitempty"`
	Type   string `json:"type,omitempty"`
	After  uint64 `json:"after,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type creatorParams struct {
	Address string `json:"address"`
	Allowed bool   `json:"allowed"`
}

type mortgageJSON struct {
	ID             uint64   `json:"id"`
	Borrower       string   `json:"borrower"`
	Holder         string   `json:"holder,omitempty"`
	Engine         string   `json:"engine"`
	LoanID         uint64   `json:"loanId"`
	Deposit        *big.Int `json:"deposit"`
	Parcel         string   `json:"parcel"`
	X              int64    `json:"x"`
	Y              int64    `json:"y"`
	CollateralCost *big.Int `json:"collateralCost"`
	Status         string   `json:"status"`
	Converter      string   `json:"converter,omitempty"`
	CreatedAt      uint64   `json:"createdAt"`
}

func (s *Server) registerMortgage() {
	s.register("mortgage_get", "mortgage", false, s.handleMortgageGet)
	s.register("mortgage_getData", "mortgage", false, s.handleMortgageGetData)
	s.register("mortgage_positions", "mortgage", false, s.handleMortgagePositions)
	s.register("mortgage_history", "mortgage", false, s.handleMortgageHistory)
	s.register("mortgage_open", "mortgage", true, s.handleMortgageOpen)
	s.register("mortgage_cancel", "mortgage", true, s.handleMortgageCancel)
	s.register("mortgage_claim", "mortgage", true, s.handleMortgageClaim)
	s.register("mortgage_transfer", "mortgage", true, s.handleMortgageTransfer)
	s.register("mortgage_setCreator", "mortgage", true, s.handleMortgageSetCreator)
}

func (s *Server) engineParam(raw string) ([20]byte, error) {
	if raw == "" {
		return s.node.Engine().Address(), nil
	}
	return parseBech32Address("engine", raw)
}

// mortgageJSON renders rec. Callers hold the node lock.
func (s *Server) mortgageJSON(rec *mortgage.Mortgage) mortgageJSON {
	x, y := parcel.DecodeParcelID(rec.CollateralID)
	out := mortgageJSON{
		ID:             rec.ID,
		Borrower:       crypto.Address(rec.Borrower).String(),
		Engine:         crypto.Address(rec.Engine).String(),
		LoanID:         rec.LoanID,
		Deposit:        rec.Deposit,
		Parcel:         rec.CollateralID.String(),
		X:              x,
		Y:              y,
		CollateralCost: rec.CollateralCost,
		Status:         rec.Status.String(),
		Converter:      formatOptional(rec.Converter),
		CreatedAt:      rec.CreatedAt,
	}
	if holder, err := s.node.Manager().OwnerOf(rec.ID); err == nil {
		out.Holder = crypto.Address(holder).String()
	}
	return out
}

func (s *Server) handleMortgageGet(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params mortgageRefParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	var (
		collateral parcel.ID
		byParcel   bool
	)
	if params.Parcel != nil {
		id, err := params.Parcel.resolve()
		if err != nil {
			return nil, err
		}
		collateral, byParcel = id, true
	}
	engine, err := s.engineParam(params.Engine)
	if err != nil {
		return nil, err
	}
	var out mortgageJSON
	err = s.query(func() error {
		var (
			rec *mortgage.Mortgage
			err error
		)
		manager := s.node.Manager()
		switch {
		case params.ID != 0:
			rec, err = manager.Mortgage(params.ID)
		case params.LoanID != 0:
			rec, err = manager.MortgageByLoan(engine, params.LoanID)
		case byParcel:
			rec, err = manager.MortgageByCollateral(collateral)
		default:
			return invalidParams("id, loanId or parcel required", nil)
		}
		if err != nil {
			return err
		}
		out = s.mortgageJSON(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleMortgageGetData(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params mortgageRefParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	var data []byte
	err := s.query(func() error {
		var err error
		data, err = s.node.Manager().GetData(params.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"cosigner": crypto.Address(s.node.Manager().Address()).String(),
		"data":     formatHex(data),
	}, nil
}

func (s *Server) handleMortgagePositions(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params positionsParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	owner, err := parseBech32Address("owner", params.Owner)
	if err != nil {
		return nil, err
	}
	var balance, supply uint64
	err = s.query(func() error {
		var err error
		if balance, err = s.node.Manager().BalanceOf(owner); err != nil {
			return err
		}
		supply, err = s.node.Manager().TotalSupply()
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"balance": balance, "totalSupply": supply}, nil
}

func (s *Server) handleMortgageHistory(ctx context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	if s.history == nil {
		return nil, errors.New("event history not configured")
	}
	var params historyParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	filter := indexer.Filter{Type: params.Type, After: params.After, Limit: params.Limit}
	if params.ID != 0 {
		filter.MortgageID = formatUint(params.ID)
	}
	if params.LoanID != 0 {
		filter.LoanID = formatUint(params.LoanID)
	}
	return s.history.History(ctx, filter)
}

func (s *Server) handleMortgageOpen(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params mortgageOpenParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	collateral, err := params.resolve()
	if err != nil {
		return nil, err
	}
	engine, err := s.engineParam(params.Engine)
	if err != nil {
		return nil, err
	}
	deposit, err := parseAmount("deposit", params.Deposit)
	if err != nil {
		return nil, err
	}
	converter, err := parseOptionalAddress("converter", params.Converter)
	if err != nil {
		return nil, err
	}
	if converter == ([20]byte{}) {
		converter = s.node.Book().Address()
	}
	open := mortgage.OpenRequest{
		Engine:       engine,
		LoanID:       params.LoanID,
		Deposit:      deposit,
		CollateralID: collateral,
		Converter:    converter,
		Kind:         mortgage.KindBuy,
	}
	if params.Identifier != "" {
		if open.LoanIdentifier, err = parseHash("identifier", params.Identifier); err != nil {
			return nil, err
		}
	} else if params.LoanID == 0 {
		return nil, invalidParams("loanId or identifier required", nil)
	}
	var out mortgageJSON
	err = s.execute(ctx, req, caller, func() error {
		id, err := s.node.Manager().Open(caller, open)
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
		return nil, err
	}
	return out, nil
}

func (s *Server) handleMortgageCancel(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params mortgageRefParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	err := s.execute(ctx, req, caller, func() error {
		return s.node.Manager().Cancel(caller, params.ID)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": params.ID, "status": "cancelled"}, nil
}

func (s *Server) handleMortgageClaim(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params mortgageClaimParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	engine, err := s.engineParam(params.Engine)
	if err != nil {
		return nil, err
	}
	proof, err := parseHexBytes("proof", params.Proof)
	if err != nil {
		return nil, err
	}
	var status mortgage.Status
	err = s.execute(ctx, req, caller, func() error {
		var err error
		status, err = s.node.Manager().Claim(caller, engine, params.LoanID, proof)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"loanId": params.LoanID, "status": status.String()}, nil
}

func (s *Server) handleMortgageTransfer(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params mortgageTransferParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	to, err := parseBech32Address("to", params.To)
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, req, caller, func() error {
		return s.node.Manager().TransferPosition(caller, params.ID, to)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"id": params.ID, "holder": params.To}, nil
}

func (s *Server) handleMortgageSetCreator(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params creatorParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseBech32Address("address", params.Address)
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, req, caller, func() error {
		return s.node.Manager().SetCreator(caller, addr, params.Allowed)
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"address": params.Address, "allowed": params.Allowed}, nil
}
