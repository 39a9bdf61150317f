package valuation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/oracle"
	"github.com/kipu-bank/kipu_bank/internal/token"
)

type fixedPrices struct {
	quote oracle.Quote
	err   error
}

func (f fixedPrices) LatestPrice(context.Context, asset.ID) (oracle.Quote, error) {
	return f.quote, f.err
}

func units(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

var now = time.Unix(1_700_000_000, 0).UTC()

func TestValueInUSDNativeScenario(t *testing.T) {
	engine := NewEngine(fixedPrices{quote: oracle.Quote{Price: units(2000, 8), Decimals: 8, UpdatedAt: now}}, token.NewStaticMetadata())

	usd, err := engine.ValueInUSD(context.Background(), asset.Native(), units(100, 18), now)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if usd.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("expected 200000000000, got %s", usd)
	}
}

func TestValueInUSDTokenUsesMetadataDecimals(t *testing.T) {
	tok := common.HexToAddress("0x0c")
	meta := token.NewStaticMetadata()
	meta.Register(tok, 6)
	engine := NewEngine(fixedPrices{quote: oracle.Quote{Price: units(1, 8), Decimals: 8, UpdatedAt: now}}, meta)

	usd, err := engine.ValueInUSD(context.Background(), asset.Token(tok), big.NewInt(500), now)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if usd.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500, got %s", usd)
	}
}

func TestValueInUSDTruncates(t *testing.T) {
	// 0.000001 token at $1.50 is 1.5 internal units; the half is dropped.
	usd, err := ToUSD(big.NewInt(1), big.NewInt(150_000_000), 8, 6)
	if err != nil {
		t.Fatalf("to usd: %v", err)
	}
	if usd.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected truncation to 1, got %s", usd)
	}

	// 1 wei at $2000 is far below one internal unit.
	usd, err = ToUSD(big.NewInt(1), units(2000, 8), 8, 18)
	if err != nil {
		t.Fatalf("to usd: %v", err)
	}
	if usd.Sign() != 0 {
		t.Fatalf("expected 0, got %s", usd)
	}
}

func TestValueIsLinearInPrice(t *testing.T) {
	amount := units(3, 18)
	for _, price := range []int64{1, 7, 1999_12345678, 31337_00000000} {
		single, err := ToUSD(amount, big.NewInt(price), 8, 18)
		if err != nil {
			t.Fatalf("price %d: %v", price, err)
		}
		double, err := ToUSD(amount, big.NewInt(2*price), 8, 18)
		if err != nil {
			t.Fatalf("price %d doubled: %v", price, err)
		}
		lower := new(big.Int).Mul(single, big.NewInt(2))
		upper := new(big.Int).Add(lower, big.NewInt(1))
		if double.Cmp(lower) < 0 || double.Cmp(upper) > 0 {
			t.Fatalf("price %d: doubled value %s not within [%s, %s]", price, double, lower, upper)
		}
	}

	exact, _ := ToUSD(units(100, 18), units(2000, 8), 8, 18)
	doubled, _ := ToUSD(units(100, 18), units(4000, 8), 8, 18)
	if new(big.Int).Mul(exact, big.NewInt(2)).Cmp(doubled) != 0 {
		t.Fatalf("expected exact doubling, got %s and %s", exact, doubled)
	}
}

func TestValueInUSDFeedAbove18Decimals(t *testing.T) {
	usd, err := ToUSD(units(100, 18), units(2000, 20), 20, 18)
	if err != nil {
		t.Fatalf("to usd: %v", err)
	}
	if usd.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("expected 200000000000, got %s", usd)
	}
}

func TestValueInUSDStalePrice(t *testing.T) {
	for _, price := range []*big.Int{units(2000, 8), big.NewInt(0), big.NewInt(-1)} {
		engine := NewEngine(fixedPrices{quote: oracle.Quote{Price: price, Decimals: 8, UpdatedAt: now.Add(-3601 * time.Second)}}, token.NewStaticMetadata())
		_, err := engine.ValueInUSD(context.Background(), asset.Native(), units(1, 18), now)
		var stale *StalePriceError
		if !errors.As(err, &stale) {
			t.Fatalf("price %s: expected StalePriceError, got %v", price, err)
		}
		if stale.Age != 3601*time.Second || stale.Limit != StalePriceLimit {
			t.Fatalf("unexpected stale error fields: %+v", stale)
		}
	}

	engine := NewEngine(fixedPrices{quote: oracle.Quote{Price: units(2000, 8), Decimals: 8, UpdatedAt: now.Add(-3600 * time.Second)}}, token.NewStaticMetadata())
	if _, err := engine.ValueInUSD(context.Background(), asset.Native(), units(1, 18), now); err != nil {
		t.Fatalf("price exactly at the limit must be accepted: %v", err)
	}
}

func TestValueInUSDInvalidPrice(t *testing.T) {
	for _, price := range []*big.Int{big.NewInt(0), big.NewInt(-200000000000)} {
		engine := NewEngine(fixedPrices{quote: oracle.Quote{Price: price, Decimals: 8, UpdatedAt: now}}, token.NewStaticMetadata())
		_, err := engine.ValueInUSD(context.Background(), asset.Native(), units(1, 18), now)
		var invalid *InvalidPriceError
		if !errors.As(err, &invalid) || !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("price %s: expected InvalidPriceError, got %v", price, err)
		}
		if invalid.Reported.Cmp(price) != 0 {
			t.Fatalf("expected reported %s, got %s", price, invalid.Reported)
		}
	}
}

func TestValueInUSDNoPriceFeed(t *testing.T) {
	engine := NewEngine(fixedPrices{err: fmt.Errorf("%w for asset native", oracle.ErrNoPriceFeed)}, token.NewStaticMetadata())
	if _, err := engine.ValueInUSD(context.Background(), asset.Native(), units(1, 18), now); !errors.Is(err, oracle.ErrNoPriceFeed) {
		t.Fatalf("expected ErrNoPriceFeed, got %v", err)
	}
}

func TestToUSDOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := ToUSD(huge, units(1, 30), 8, 0); !errors.Is(err, ErrValueOverflow) {
		t.Fatalf("expected ErrValueOverflow, got %v", err)
	}
	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := ToUSD(tooWide, big.NewInt(1), 8, 18); !errors.Is(err, ErrValueOverflow) {
		t.Fatalf("expected ErrValueOverflow for 2^256 amount, got %v", err)
	}
	if _, err := ToUSD(big.NewInt(1), big.NewInt(1), 8, 78); !errors.Is(err, ErrUnsupportedDecimals) {
		t.Fatalf("expected ErrUnsupportedDecimals, got %v", err)
	}
}
