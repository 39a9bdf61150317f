package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	decimalsSelector        = crypto.Keccak256([]byte("decimals()"))[:4]
	latestRoundDataSelector = crypto.Keccak256([]byte("latestRoundData()"))[:4]
)

// ChainlinkFeeds resolves feed addresses to aggregator contracts read over RPC.
type ChainlinkFeeds struct {
	caller ethereum.ContractCaller
}

// NewChainlinkFeeds builds a resolver over any contract caller (usually *ethclient.Client).
func NewChainlinkFeeds(caller ethereum.ContractCaller) *ChainlinkFeeds {
	return &ChainlinkFeeds{caller: caller}
}

// Feed returns the aggregator deployed at address.
func (f *ChainlinkFeeds) Feed(address common.Address) Source {
	return &chainlinkFeed{caller: f.caller, address: address}
}

type chainlinkFeed struct {
	caller  ethereum.ContractCaller
	address common.Address
}

func (f *chainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	result, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.address, Data: decimalsSelector}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call decimals: %w", err)
	}
	if len(result) < 32 {
		return 0, fmt.Errorf("unexpected decimals result length: %d", len(result))
	}
	v := new(big.Int).SetBytes(result[:32])
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("decimals out of range: %s", v)
	}
	return uint8(v.Uint64()), nil
}

func (f *chainlinkFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	result, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.address, Data: latestRoundDataSelector}, nil)
	if err != nil {
		return RoundData{}, fmt.Errorf("failed to call latestRoundData: %w", err)
	}
	if len(result) < 160 {
		return RoundData{}, fmt.Errorf("unexpected latestRoundData result length: %d", len(result))
	}

	word := func(i int) *big.Int {
		return new(big.Int).SetBytes(result[i*32 : (i+1)*32])
	}

	return RoundData{
		RoundID:         word(0),
		Answer:          math.S256(word(1)),
		StartedAt:       unixWord(word(2)),
		UpdatedAt:       unixWord(word(3)),
		AnsweredInRound: word(4),
	}, nil
}

// unixWord maps out-of-range timestamps to the zero time so they read as stale.
func unixWord(v *big.Int) time.Time {
	if !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
