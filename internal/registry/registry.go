package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/events"
	"github.com/kipu-bank/kipu_bank/internal/logging"
)

var (
	// ErrUnauthorized is returned when the caller is not the controller.
	ErrUnauthorized = errors.New("caller is not the controller")
	// ErrInvalidOwner rejects handing control to the zero address.
	ErrInvalidOwner = errors.New("new owner is the zero address")
)

// Binding associates an asset with its price feed.
type Binding struct {
	Asset     asset.ID
	Feed      common.Address
	UpdatedAt time.Time
}

// Registry owns the asset to feed bindings and the controller identity.
// It is the only writer of bindings.
type Registry struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// New builds a registry over store.
func New(store Store, publisher events.Publisher, logger *slog.Logger) *Registry {
	return &Registry{
		store:     store,
		publisher: publisher,
		logger:    logging.Component(logger, "registry"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Owner returns the current controller.
func (r *Registry) Owner(ctx context.Context) (common.Address, error) {
	return r.store.Owner(ctx)
}

// Binding returns the feed bound to id. It satisfies oracle.BindingReader.
func (r *Registry) Binding(ctx context.Context, id asset.ID) (common.Address, bool, error) {
	return r.store.Binding(ctx, id)
}

// Bindings lists every bound asset.
func (r *Registry) Bindings(ctx context.Context) ([]Binding, error) {
	return r.store.Bindings(ctx)
}

// SetBinding binds id to feed, replacing any previous binding. Binding the
// zero address removes the feed and makes the asset non-depositable.
func (r *Registry) SetBinding(ctx context.Context, caller common.Address, id asset.ID, feed common.Address) error {
	if !id.Valid() {
		return asset.ErrInvalidAsset
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorize(ctx, caller); err != nil {
		return err
	}
	previous, _, err := r.store.Binding(ctx, id)
	if err != nil {
		return fmt.Errorf("read binding: %w", err)
	}
	if err := r.store.SetBinding(ctx, Binding{Asset: id, Feed: feed, UpdatedAt: r.now()}); err != nil {
		return fmt.Errorf("store binding: %w", err)
	}

	r.logger.Info("feed bound", slog.String("asset", id.String()), slog.String("feed", feed.Hex()), slog.String("previous", previous.Hex()))
	r.publish(ctx, events.New(events.KindFeedBound, map[string]string{
		"asset":    id.String(),
		"feed":     feed.Hex(),
		"previous": previous.Hex(),
		"caller":   caller.Hex(),
	}))
	return nil
}

// TransferOwnership hands control to newOwner.
func (r *Registry) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrInvalidOwner
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorize(ctx, caller); err != nil {
		return err
	}
	if err := r.store.SetOwner(ctx, newOwner); err != nil {
		return fmt.Errorf("store owner: %w", err)
	}

	r.logger.Info("ownership transferred", slog.String("previous", caller.Hex()), slog.String("owner", newOwner.Hex()))
	r.publish(ctx, events.New(events.KindOwnershipTransferred, map[string]string{
		"previous": caller.Hex(),
		"owner":    newOwner.Hex(),
	}))
	return nil
}

func (r *Registry) authorize(ctx context.Context, caller common.Address) error {
	owner, err := r.store.Owner(ctx)
	if err != nil {
		return fmt.Errorf("read owner: %w", err)
	}
	if caller != owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (r *Registry) publish(ctx context.Context, event events.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish event failed", slog.String("kind", event.Kind), slog.Any("error", err))
	}
}
