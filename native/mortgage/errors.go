package mortgage

import (
	"errors"

	"mortgagechain/native/convert"
)

var (
	ErrInsufficientFunds    = errors.New("mortgage: insufficient funds")
	ErrInvalidState         = errors.New("mortgage: invalid state")
	ErrUnauthorized         = errors.New("mortgage: unauthorized")
	ErrInvalidSignature     = errors.New("mortgage: invalid signature")
	ErrNotListed            = errors.New("mortgage: collateral not listed")
	ErrConversionOverBudget = errors.New("mortgage: conversion exceeds budget")
	ErrNotYetResolvable     = errors.New("mortgage: loan neither paid nor defaulted")
	ErrMortgageNotFound     = errors.New("mortgage: not found")
	ErrInvalidCosignerData  = errors.New("mortgage: invalid cosigner data")
	ErrUnknownEngine        = errors.New("mortgage: unknown loan engine")
	ErrInsufficientCoverage = errors.New("mortgage: deposit and loan do not cover the price")
	ErrLoanInUse            = errors.New("mortgage: loan already backs a mortgage")

	// ErrPriceUnavailable is the collateral market's name for a missing
	// listing.
	ErrPriceUnavailable = ErrNotListed
	// Conversion failures surface the backend sentinels unchanged.
	ErrSlippageExceeded = convert.ErrSlippageExceeded
	ErrUnknownConverter = convert.ErrUnknownConverter

	errNilState = errors.New("mortgage: state not configured")
)
