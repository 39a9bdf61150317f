package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

// Store persists the controller and the bindings.
type Store interface {
	Owner(ctx context.Context) (common.Address, error)
	SetOwner(ctx context.Context, owner common.Address) error
	Binding(ctx context.Context, id asset.ID) (common.Address, bool, error)
	SetBinding(ctx context.Context, binding Binding) error
	Bindings(ctx context.Context) ([]Binding, error)
}

type memoryStore struct {
	mu       sync.RWMutex
	owner    common.Address
	bindings map[asset.ID]Binding
}

// NewMemoryStore constructs an in-memory store controlled by owner.
func NewMemoryStore(owner common.Address) Store {
	return &memoryStore{owner: owner, bindings: make(map[asset.ID]Binding)}
}

func (s *memoryStore) Owner(context.Context) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner, nil
}

func (s *memoryStore) SetOwner(_ context.Context, owner common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	return nil
}

func (s *memoryStore) Binding(_ context.Context, id asset.ID) (common.Address, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[id]
	if !ok {
		return common.Address{}, false, nil
	}
	return b.Feed, true, nil
}

func (s *memoryStore) SetBinding(_ context.Context, binding Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if binding.Feed == (common.Address{}) {
		delete(s.bindings, binding.Asset)
		return nil
	}
	s.bindings[binding.Asset] = binding
	return nil
}

func (s *memoryStore) Bindings(context.Context) ([]Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.String() < out[j].Asset.String() })
	return out, nil
}
