package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrFeedUnavailable is returned by StaticFeeds for addresses never registered.
var ErrFeedUnavailable = errors.New("feed unavailable")

// StaticFeed is an in-process price source whose report is set by the operator.
// It backs development deployments without an RPC endpoint and tests.
type StaticFeed struct {
	mu       sync.RWMutex
	decimals uint8
	round    RoundData
	clock    func() time.Time
}

// NewStaticFeed builds a feed reporting answer at updatedAt with the given precision.
func NewStaticFeed(decimals uint8, answer *big.Int, updatedAt time.Time) *StaticFeed {
	f := &StaticFeed{decimals: decimals}
	f.Set(answer, updatedAt)
	return f
}

// NewLiveStaticFeed builds a feed that reports answer as updated at clock()
// on every read, so it never goes stale.
func NewLiveStaticFeed(decimals uint8, answer *big.Int, clock func() time.Time) *StaticFeed {
	f := NewStaticFeed(decimals, answer, clock())
	f.clock = clock
	return f
}

// Set publishes a new round.
func (f *StaticFeed) Set(answer *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := new(big.Int).Add(big.NewInt(1), roundOrZero(f.round.RoundID))
	f.round = RoundData{
		RoundID:         next,
		Answer:          new(big.Int).Set(answer),
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: new(big.Int).Set(next),
	}
}

func (f *StaticFeed) Decimals(_ context.Context) (uint8, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.decimals, nil
}

func (f *StaticFeed) LatestRoundData(_ context.Context) (RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r := f.round
	r.Answer = new(big.Int).Set(r.Answer)
	if f.clock != nil {
		r.UpdatedAt = f.clock()
	}
	return r, nil
}

func roundOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// StaticFeeds resolves addresses to registered StaticFeed instances.
type StaticFeeds struct {
	mu    sync.RWMutex
	feeds map[common.Address]*StaticFeed
}

func NewStaticFeeds() *StaticFeeds {
	return &StaticFeeds{feeds: make(map[common.Address]*StaticFeed)}
}

// Register makes feed readable at address.
func (s *StaticFeeds) Register(address common.Address, feed *StaticFeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[address] = feed
}

func (s *StaticFeeds) Feed(address common.Address) Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if feed, ok := s.feeds[address]; ok {
		return feed
	}
	return unavailableFeed{}
}

type unavailableFeed struct{}

func (unavailableFeed) Decimals(context.Context) (uint8, error) { return 0, ErrFeedUnavailable }

func (unavailableFeed) LatestRoundData(context.Context) (RoundData, error) {
	return RoundData{}, ErrFeedUnavailable
}
