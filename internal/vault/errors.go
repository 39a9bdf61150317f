package vault

import "errors"

var (
	// ErrZeroAmount rejects deposits and withdrawals of nothing.
	ErrZeroAmount = errors.New("amount must be greater than zero")
	// ErrNegativeAmount rejects amounts below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrNotNativeAsset rejects the native asset on the token deposit path.
	ErrNotNativeAsset = errors.New("native asset cannot be deposited as a token")
	// ErrReentrantCall rejects a mutator invoked from within another mutator's context.
	ErrReentrantCall = errors.New("reentrant call")
)
