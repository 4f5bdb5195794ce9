package rpc

import (
	"context"
	"math/big"

	"mortgagechain/crypto"
	"mortgagechain/native/parcel"
)

type balanceParams struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

type allowanceParams struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type approveParams struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type transferParams struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type amountResult struct {
	Token  string   `json:"token"`
	Amount *big.Int `json:"amount"`
}

type orderParams struct {
	parcelRef
	Price     string `json:"price,omitempty"`
	ExpiresAt uint64 `json:"expiresAt,omitempty"`
}

type orderJSON struct {
	Parcel    string   `json:"parcel"`
	X         int64    `json:"x"`
	Y         int64    `json:"y"`
	Seller    string   `json:"seller"`
	Owner     string   `json:"owner"`
	Price     *big.Int `json:"price,omitempty"`
	ExpiresAt uint64   `json:"expiresAt,omitempty"`
}

func (s *Server) registerBank() {
	s.register("bank_balance", "bank", false, s.handleBankBalance)
	s.register("bank_allowance", "bank", false, s.handleBankAllowance)
	s.register("bank_approve", "bank", true, s.handleBankApprove)
	s.register("bank_transfer", "bank", true, s.handleBankTransfer)
}

func (s *Server) registerMarket() {
	s.register("market_order", "market", false, s.handleMarketOrder)
	s.register("market_createOrder", "market", true, s.handleMarketCreateOrder)
	s.register("market_cancelOrder", "market", true, s.handleMarketCancelOrder)
	s.register("market_approveOperator", "market", true, s.handleMarketApproveOperator)
}

func (s *Server) handleBankBalance(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseBech32Address("address", params.Address)
	if err != nil {
		return nil, err
	}
	var bal *big.Int
	err = s.query(func() error {
		var err error
		bal, err = s.node.Ledger().BalanceOf(params.Token, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amountResult{Token: params.Token, Amount: bal}, nil
}

func (s *Server) handleBankAllowance(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params allowanceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	owner, err := parseBech32Address("owner", params.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := parseBech32Address("spender", params.Spender)
	if err != nil {
		return nil, err
	}
	var allowance *big.Int
	err = s.query(func() error {
		var err error
		allowance, err = s.node.Ledger().Allowance(params.Token, owner, spender)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amountResult{Token: params.Token, Amount: allowance}, nil
}

func (s *Server) handleBankApprove(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params approveParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	spender, err := parseBech32Address("spender", params.Spender)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, req, caller, func() error {
		return s.node.Ledger().Approve(params.Token, caller, spender, amount)
	})
	if err != nil {
		return nil, err
	}
	return amountResult{Token: params.Token, Amount: amount}, nil
}

func (s *Server) handleBankTransfer(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params transferParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	to, err := parseBech32Address("to", params.To)
	if err != nil {
		return nil, err
	}
	amount, err := parsePositiveBigInt("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, req, caller, func() error {
		return s.node.Ledger().Transfer(params.Token, caller, to, amount)
	})
	if err != nil {
		return nil, err
	}
	return amountResult{Token: params.Token, Amount: amount}, nil
}

func (s *Server) handleMarketOrder(_ context.Context, _ [20]byte, req *RPCRequest) (interface{}, error) {
	var params orderParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := params.resolve()
	if err != nil {
		return nil, err
	}
	x, y := parcel.DecodeParcelID(id)
	out := orderJSON{Parcel: id.String(), X: x, Y: y}
	err = s.query(func() error {
		owner, err := s.node.Parcels().OwnerOf(id)
		if err != nil {
			return err
		}
		out.Owner = crypto.Address(owner).String()
		order, err := s.node.Market().Order(id)
		if err != nil {
			// An unlisted parcel still reports its owner.
			return nil
		}
		out.Seller = crypto.Address(order.Seller).String()
		out.Price = order.Price
		out.ExpiresAt = order.ExpiresAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleMarketCreateOrder(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params orderParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := params.resolve()
	if err != nil {
		return nil, err
	}
	price, err := parsePositiveBigInt("price", params.Price)
	if err != nil {
		return nil, err
	}
	x, y := parcel.DecodeParcelID(id)
	out := orderJSON{Parcel: id.String(), X: x, Y: y, Seller: crypto.Address(caller).String(), Owner: crypto.Address(caller).String()}
	err = s.execute(ctx, req, caller, func() error {
		order, err := s.node.Market().CreateOrder(caller, id, price, params.ExpiresAt)
		if err != nil {
			return err
		}
		out.Price = order.Price
		out.ExpiresAt = order.ExpiresAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleMarketCancelOrder(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params orderParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := params.resolve()
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, req, caller, func() error {
		return s.node.Market().CancelOrder(caller, id)
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"parcel": id.String(), "status": "cancelled"}, nil
}

type operatorParams struct {
	Approved bool `json:"approved"`
}

// handleMarketApproveOperator lets the caller allow the marketplace to move
// their parcels, which listing requires.
func (s *Server) handleMarketApproveOperator(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params operatorParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	err := s.execute(ctx, req, caller, func() error {
		return s.node.Parcels().SetApprovalForAll(caller, s.node.Market().Address(), params.Approved)
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"approved": params.Approved}, nil
}
