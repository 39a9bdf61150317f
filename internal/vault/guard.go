package vault

import (
	"context"
	"sync"
	"sync/atomic"
)

type guardKey struct{ g *guard }

// guard serialises mutators. Re-entry is rejected instead of waiting when
// the caller carries the marker returned by enter, or when the holder of the
// guard is inside an outbound transfer: a callback made from there cannot be
// told apart from an unrelated caller and would otherwise deadlock.
type guard struct {
	mu       sync.Mutex
	outbound atomic.Bool
}

func (g *guard) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(guardKey{g}) != nil {
		return ctx, func() {}, ErrReentrantCall
	}
	if !g.mu.TryLock() {
		if g.outbound.Load() {
			return ctx, func() {}, ErrReentrantCall
		}
		g.mu.Lock()
	}
	return context.WithValue(ctx, guardKey{g}, struct{}{}), g.mu.Unlock, nil
}

// external runs fn, an outbound transfer, with the in-flight flag raised.
func (g *guard) external(fn func() error) error {
	g.outbound.Store(true)
	defer g.outbound.Store(false)
	return fn()
}
