package rpc

import (
	"errors"
	"net/http"

	"mortgagechain/core"
	"mortgagechain/native/bank"
	"mortgagechain/native/convert"
	"mortgagechain/native/loans"
	"mortgagechain/native/market"
	"mortgagechain/native/mortgage"
	"mortgagechain/native/parcel"
)

const (
	codeNotFound          = -32022
	codeForbidden         = -32023
	codeConflict          = -32024
	codeInsufficientFunds = -32030
	codeConversionFailed  = -32031
)

func invalidParams(message string, data interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message, Data: data}
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classify maps a handler error to its HTTP status and JSON-RPC error.
func classify(err error) (int, *RPCError) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		status := http.StatusBadRequest
		if rpcErr.Code == codeUnauthorized {
			status = http.StatusUnauthorized
		}
		return status, rpcErr
	}
	data := err.Error()
	switch {
	case isAny(err, mortgage.ErrMortgageNotFound, loans.ErrLoanNotFound, parcel.ErrParcelNotFound, bank.ErrUnknownToken):
		return http.StatusNotFound, &RPCError{Code: codeNotFound, Message: "not_found", Data: data}
	case isAny(err, mortgage.ErrUnauthorized, mortgage.ErrInvalidSignature, loans.ErrUnauthorized,
		loans.ErrInvalidSignature, convert.ErrUnauthorized, parcel.ErrNotAuthorized, market.ErrNotSeller,
		bank.ErrMintUnauthorized):
		return http.StatusForbidden, &RPCError{Code: codeForbidden, Message: "forbidden", Data: data}
	case isAny(err, mortgage.ErrInsufficientFunds, bank.ErrInsufficientBalance, bank.ErrInsufficientAllowance):
		return http.StatusConflict, &RPCError{Code: codeInsufficientFunds, Message: "insufficient_funds", Data: data}
	case isAny(err, mortgage.ErrConversionOverBudget, convert.ErrSlippageExceeded, convert.ErrInsufficientLiquidity,
		convert.ErrUnsupportedPair, convert.ErrNoRate, convert.ErrUnknownConverter):
		return http.StatusConflict, &RPCError{Code: codeConversionFailed, Message: "conversion_failed", Data: data}
	case isAny(err, mortgage.ErrInvalidState, mortgage.ErrNotYetResolvable, mortgage.ErrLoanInUse,
		mortgage.ErrInsufficientCoverage, mortgage.ErrNotListed, mortgage.ErrUnknownEngine, market.ErrNotListed,
		market.ErrPriceAboveMax, loans.ErrInvalidStatus, loans.ErrLoanExpired, loans.ErrNotApproved,
		loans.ErrDuplicateIdentifier, loans.ErrCosignerNotConfirmed, core.ErrGenesisApplied):
		return http.StatusConflict, &RPCError{Code: codeConflict, Message: "conflict", Data: data}
	case isAny(err, loans.ErrInvalidParams, bank.ErrInvalidAmount, convert.ErrInvalidAmount, market.ErrInvalidPrice,
		market.ErrInvalidExpiry, mortgage.ErrInvalidCosignerData):
		return http.StatusBadRequest, &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: data}
	}
	return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: "internal_error", Data: data}
}
