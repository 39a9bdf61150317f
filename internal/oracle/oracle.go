package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

// ErrNoPriceFeed indicates no price source is bound to the requested asset.
var ErrNoPriceFeed = errors.New("no price feed")

// RoundData mirrors the answer of an aggregator's latestRoundData call.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound *big.Int
}

// Source is a single external price feed.
type Source interface {
	Decimals(ctx context.Context) (uint8, error)
	LatestRoundData(ctx context.Context) (RoundData, error)
}

// FeedResolver turns a bound feed address into a readable Source.
type FeedResolver interface {
	Feed(address common.Address) Source
}

// BindingReader exposes the asset → feed bindings owned by the admin registry.
type BindingReader interface {
	Binding(ctx context.Context, id asset.ID) (common.Address, bool, error)
}

// Quote is the normalised price triple consumed by valuation.
type Quote struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// Adapter reads the bound feed for an asset and normalises its report.
// It performs no staleness or sign validation.
type Adapter struct {
	bindings BindingReader
	feeds    FeedResolver
}

// NewAdapter builds a price adapter over the registry bindings and a feed resolver.
func NewAdapter(bindings BindingReader, feeds FeedResolver) *Adapter {
	return &Adapter{bindings: bindings, feeds: feeds}
}

// LatestPrice returns the latest report of the feed bound to id.
func (a *Adapter) LatestPrice(ctx context.Context, id asset.ID) (Quote, error) {
	addr, ok, err := a.bindings.Binding(ctx, id)
	if err != nil {
		return Quote{}, fmt.Errorf("lookup feed binding for %s: %w", id, err)
	}
	if !ok {
		return Quote{}, fmt.Errorf("%w for asset %s", ErrNoPriceFeed, id)
	}

	src := a.feeds.Feed(addr)
	decimals, err := src.Decimals(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("read decimals of feed %s: %w", addr.Hex(), err)
	}
	round, err := src.LatestRoundData(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("read latest round of feed %s: %w", addr.Hex(), err)
	}
	if round.Answer == nil {
		round.Answer = new(big.Int)
	}

	return Quote{
		Price:     new(big.Int).Set(round.Answer),
		Decimals:  decimals,
		UpdatedAt: round.UpdatedAt,
	}, nil
}
