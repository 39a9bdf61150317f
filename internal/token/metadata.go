package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnknownToken is returned by StaticMetadata for tokens never registered.
var ErrUnknownToken = errors.New("unknown token")

var decimalsSelector = crypto.Keccak256([]byte("decimals()"))[:4]

// Metadata reports the native precision of a token contract.
type Metadata interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// ERC20Metadata reads decimals() from the token contract on every call.
type ERC20Metadata struct {
	caller ethereum.ContractCaller
}

func NewERC20Metadata(caller ethereum.ContractCaller) *ERC20Metadata {
	return &ERC20Metadata{caller: caller}
}

func (m *ERC20Metadata) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	result, err := m.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: decimalsSelector}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call decimals on %s: %w", token.Hex(), err)
	}
	if len(result) < 32 {
		return 0, fmt.Errorf("unexpected decimals result length from %s: %d", token.Hex(), len(result))
	}
	v := new(big.Int).SetBytes(result[:32])
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("decimals of %s out of range: %s", token.Hex(), v)
	}
	return uint8(v.Uint64()), nil
}

// StaticMetadata serves decimals registered in-process.
type StaticMetadata struct {
	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

func NewStaticMetadata() *StaticMetadata {
	return &StaticMetadata{decimals: make(map[common.Address]uint8)}
}

// Register records the precision of token.
func (m *StaticMetadata) Register(token common.Address, decimals uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decimals[token] = decimals
}

func (m *StaticMetadata) Decimals(_ context.Context, token common.Address) (uint8, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decimals[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return d, nil
}
