package valuation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/oracle"
	"github.com/kipu-bank/kipu_bank/internal/token"
)

const (
	// StalePriceLimit is the maximum accepted age of a feed report.
	StalePriceLimit = 3600 * time.Second
	// IntermediateDecimals is the common scale every valuation passes through.
	IntermediateDecimals = 18
	// InternalDecimals is the fixed-point scale of the ledger's USD figures.
	InternalDecimals = 6

	maxPow10 = 77
)

var pow10 [maxPow10 + 1]*uint256.Int

func init() {
	pow10[0] = uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := 1; i <= maxPow10; i++ {
		pow10[i] = new(uint256.Int).Mul(pow10[i-1], ten)
	}
}

// PriceReader is the subset of the oracle adapter used for valuation.
type PriceReader interface {
	LatestPrice(ctx context.Context, id asset.ID) (oracle.Quote, error)
}

// Engine converts native asset amounts into internal fixed-point USD.
type Engine struct {
	prices     PriceReader
	tokens     token.Metadata
	staleLimit time.Duration
}

// NewEngine builds a valuation engine using the fixed freshness limit.
func NewEngine(prices PriceReader, tokens token.Metadata) *Engine {
	return &Engine{prices: prices, tokens: tokens, staleLimit: StalePriceLimit}
}

// ValueInUSD values amount of id at the currently reported price.
// The feed must have been updated no more than StalePriceLimit before now and
// must report a strictly positive answer.
func (e *Engine) ValueInUSD(ctx context.Context, id asset.ID, amount *big.Int, now time.Time) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	quote, err := e.prices.LatestPrice(ctx, id)
	if err != nil {
		return nil, err
	}

	// Whole seconds, like on-chain timestamps. Reports dated in the future count as fresh.
	age := time.Duration(now.Unix()-quote.UpdatedAt.Unix()) * time.Second
	if age > e.staleLimit {
		return nil, &StalePriceError{Age: age, Limit: e.staleLimit}
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, &InvalidPriceError{Reported: orZero(quote.Price)}
	}

	tokenDecimals, err := e.decimalsOf(ctx, id)
	if err != nil {
		return nil, err
	}

	return ToUSD(amount, quote.Price, quote.Decimals, tokenDecimals)
}

func (e *Engine) decimalsOf(ctx context.Context, id asset.ID) (uint8, error) {
	addr, ok := id.TokenAddress()
	if !ok {
		return asset.NativeDecimals, nil
	}
	d, err := e.tokens.Decimals(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("read token decimals: %w", err)
	}
	return d, nil
}

// ToUSD scales amount (tokenDecimals precision) priced at price (feedDecimals
// precision) up to IntermediateDecimals and truncates it down to InternalDecimals.
// Fractions below the internal precision are dropped, never rounded.
func ToUSD(amount, price *big.Int, feedDecimals, tokenDecimals uint8) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if price == nil || price.Sign() <= 0 {
		return nil, &InvalidPriceError{Reported: orZero(price)}
	}
	if tokenDecimals > maxPow10 || feedDecimals > maxPow10 {
		return nil, fmt.Errorf("%w: feed %d, token %d", ErrUnsupportedDecimals, feedDecimals, tokenDecimals)
	}

	a, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: amount", ErrValueOverflow)
	}
	p, overflow := uint256.FromBig(price)
	if overflow {
		return nil, fmt.Errorf("%w: price", ErrValueOverflow)
	}

	var valueAt18 *uint256.Int
	if feedDecimals <= IntermediateDecimals {
		scaledPrice, overflow := new(uint256.Int).MulOverflow(p, pow10[IntermediateDecimals-feedDecimals])
		if overflow {
			return nil, fmt.Errorf("%w: scaled price", ErrValueOverflow)
		}
		valueAt18, overflow = new(uint256.Int).MulDivOverflow(a, scaledPrice, pow10[tokenDecimals])
		if overflow {
			return nil, fmt.Errorf("%w: intermediate value", ErrValueOverflow)
		}
	} else {
		denom, overflow := new(uint256.Int).MulOverflow(pow10[tokenDecimals], pow10[feedDecimals-IntermediateDecimals])
		if overflow {
			return nil, fmt.Errorf("%w: scale", ErrUnsupportedDecimals)
		}
		valueAt18, overflow = new(uint256.Int).MulDivOverflow(a, p, denom)
		if overflow {
			return nil, fmt.Errorf("%w: intermediate value", ErrValueOverflow)
		}
	}

	usd := new(uint256.Int).Div(valueAt18, pow10[IntermediateDecimals-InternalDecimals])
	return usd.ToBig(), nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
