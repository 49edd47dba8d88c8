package settlement

import (
	"errors"

	"paysettle/native/authority"
)

var (
	ErrPaymentExpired      = errors.New("settlement: the payment has expired")
	ErrInvalidPercentage   = errors.New("settlement: fee weights must sum to exactly 10000 bps")
	ErrArithmeticUnderflow = errors.New("settlement: arithmetic underflow")
	ErrArithmeticOverflow  = errors.New("settlement: arithmetic overflow")
	ErrInvalidOwner        = authority.ErrInvalidOwner
	ErrExternalCall        = errors.New("settlement: external call failed")
	ErrUnknownProtocol     = errors.New("settlement: exchange protocol not registered")
	ErrZeroAmount          = errors.New("settlement: amount must be positive")
)

var (
	errNilState     = errors.New("settlement engine: state not configured")
	errNilAuthority = errors.New("settlement engine: authority not configured")
)
