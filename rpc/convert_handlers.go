package rpc

import (
	"context"

	"mortgagechain/crypto"
)

type converterParams struct {
	Address string `json:"address"`
}

type converterJSON struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

func (s *Server) registerConvert() {
	s.register("convert_list", "convert", false, s.handleConvertList)
	s.register("convert_retire", "convert", true, s.handleConvertRetire)
}

func (s *Server) handleConvertList(_ context.Context, _ [20]byte, _ *RPCRequest) (interface{}, error) {
	var out []converterJSON
	err := s.query(func() error {
		registry := s.node.Converters()
		for _, addr := range registry.Addresses() {
			_, err := registry.Get(addr)
			out = append(out, converterJSON{Address: crypto.Address(addr).String(), Active: err == nil})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// handleConvertRetire is operator only; mortgages already funded through the
// converter are unaffected.
func (s *Server) handleConvertRetire(ctx context.Context, caller [20]byte, req *RPCRequest) (interface{}, error) {
	var params converterParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseBech32Address("address", params.Address)
	if err != nil {
		return nil, err
	}
	if err := s.node.RetireConverter(ctx, caller, addr); err != nil {
		return nil, err
	}
	return converterJSON{Address: params.Address, Active: false}, nil
}
