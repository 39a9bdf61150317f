package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

var (
	errInsufficientAllowance = errors.New("insufficient allowance")
	errInsufficientFunds     = errors.New("insufficient funds")
	errMissingReference      = errors.New("attachment reference required")
)

// ReleaseHook runs after a release has moved funds, standing in for code at the
// recipient. Returning an error fails the release and undoes the movement.
type ReleaseHook func(ctx context.Context, holder common.Address, id asset.ID, amount *big.Int) error

// Simulated keeps external wallets, allowances and custody holdings in memory.
// It backs development deployments without an RPC endpoint and tests.
type Simulated struct {
	mu         sync.Mutex
	wallets    map[common.Address]map[asset.ID]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	held       map[asset.ID]*big.Int
	claimed    map[string]struct{}
	onRelease  ReleaseHook
}

// NewSimulated builds an empty simulated custody.
func NewSimulated() *Simulated {
	return &Simulated{
		wallets:    make(map[common.Address]map[asset.ID]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		held:       make(map[asset.ID]*big.Int),
		claimed:    make(map[string]struct{}),
	}
}

// Fund credits an external wallet.
func (s *Simulated) Fund(holder common.Address, id asset.ID, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(s.wallet(holder), id, amount)
}

// Approve sets the custody allowance of holder for token.
func (s *Simulated) Approve(holder, token common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowances[holder] == nil {
		s.allowances[holder] = make(map[common.Address]*big.Int)
	}
	s.allowances[holder][token] = new(big.Int).Set(amount)
}

// OnRelease installs a hook invoked after every release.
func (s *Simulated) OnRelease(hook ReleaseHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRelease = hook
}

// WalletBalance returns the external balance of holder.
func (s *Simulated) WalletBalance(holder common.Address, id asset.ID) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return get(s.wallets[holder], id)
}

// Held returns the amount of id in custody.
func (s *Simulated) Held(id asset.ID) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return get(s.held, id)
}

// Pull moves token from holder's wallet into custody, consuming allowance.
func (s *Simulated) Pull(_ context.Context, holder, tokenAddr common.Address, amount *big.Int) (Receipt, error) {
	id := asset.Token(tokenAddr)
	s.mu.Lock()
	defer s.mu.Unlock()

	allowance := get(s.allowances[holder], tokenAddr)
	if allowance.Cmp(amount) < 0 {
		return Receipt{}, failed(holder, id, amount, errInsufficientAllowance)
	}
	wallet := s.wallet(holder)
	if get(wallet, id).Cmp(amount) < 0 {
		return Receipt{}, failed(holder, id, amount, errInsufficientFunds)
	}

	s.allowances[holder][tokenAddr] = new(big.Int).Sub(allowance, amount)
	s.sub(wallet, id, amount)
	s.add(s.held, id, amount)
	return Receipt{Reference: "sim-pull-" + uuid.NewString()}, nil
}

// Release moves id from custody to holder's wallet and runs the release hook.
func (s *Simulated) Release(ctx context.Context, holder common.Address, id asset.ID, amount *big.Int) (Receipt, error) {
	s.mu.Lock()
	if get(s.held, id).Cmp(amount) < 0 {
		s.mu.Unlock()
		return Receipt{}, failed(holder, id, amount, errInsufficientFunds)
	}
	s.sub(s.held, id, amount)
	s.add(s.wallet(holder), id, amount)
	hook := s.onRelease
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, holder, id, amount); err != nil {
			s.mu.Lock()
			s.sub(s.wallet(holder), id, amount)
			s.add(s.held, id, amount)
			s.mu.Unlock()
			return Receipt{}, failed(holder, id, amount, err)
		}
	}
	return Receipt{Reference: "sim-release-" + uuid.NewString()}, nil
}

// ClaimNative treats ref as the attachment of amount native units from holder's wallet.
func (s *Simulated) ClaimNative(_ context.Context, holder common.Address, amount *big.Int, ref string) (Receipt, error) {
	id := asset.Native()
	if ref == "" {
		return Receipt{}, failed(holder, id, amount, errMissingReference)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.claimed[ref]; ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrAlreadyClaimed, ref)
	}
	wallet := s.wallet(holder)
	if get(wallet, id).Cmp(amount) < 0 {
		return Receipt{}, failed(holder, id, amount, errInsufficientFunds)
	}
	s.sub(wallet, id, amount)
	s.add(s.held, id, amount)
	s.claimed[ref] = struct{}{}
	return Receipt{Reference: ref}, nil
}

func (s *Simulated) wallet(holder common.Address) map[asset.ID]*big.Int {
	w, ok := s.wallets[holder]
	if !ok {
		w = make(map[asset.ID]*big.Int)
		s.wallets[holder] = w
	}
	return w
}

func (s *Simulated) add(m map[asset.ID]*big.Int, id asset.ID, amount *big.Int) {
	m[id] = new(big.Int).Add(get(m, id), amount)
}

func (s *Simulated) sub(m map[asset.ID]*big.Int, id asset.ID, amount *big.Int) {
	m[id] = new(big.Int).Sub(get(m, id), amount)
}

func get[K comparable](m map[K]*big.Int, k K) *big.Int {
	if v, ok := m[k]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}
