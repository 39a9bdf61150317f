package valuation

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrStalePrice indicates the feed's last update is older than the freshness limit.
	ErrStalePrice = errors.New("stale price")
	// ErrInvalidPrice indicates the feed reported a zero or negative answer.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrValueOverflow indicates an intermediate or final value does not fit in 256 bits.
	ErrValueOverflow = errors.New("value overflow")
	// ErrUnsupportedDecimals indicates a precision whose power of ten exceeds 256 bits.
	ErrUnsupportedDecimals = errors.New("unsupported decimals")
	// ErrInvalidAmount indicates a negative or missing amount.
	ErrInvalidAmount = errors.New("invalid amount")
)

// StalePriceError carries the observed age and the configured limit.
type StalePriceError struct {
	Age   time.Duration
	Limit time.Duration
}

func (e *StalePriceError) Error() string {
	return fmt.Sprintf("stale price: age %s exceeds limit %s", e.Age, e.Limit)
}

func (e *StalePriceError) Unwrap() error { return ErrStalePrice }

// InvalidPriceError carries the rejected feed answer.
type InvalidPriceError struct {
	Reported *big.Int
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price: feed reported %s", e.Reported)
}

func (e *InvalidPriceError) Unwrap() error { return ErrInvalidPrice }
