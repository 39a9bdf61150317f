package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/events"
	"github.com/kipu-bank/kipu_bank/internal/logging"
)

var (
	controller = common.HexToAddress("0x0000000000000000000000000000000000000001")
	stranger   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	ethFeed    = common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
	otherFeed  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

func newTestRegistry() (*Registry, *events.Recorder) {
	rec := &events.Recorder{}
	return New(NewMemoryStore(controller), rec, logging.Discard()), rec
}

func TestSetBindingRequiresController(t *testing.T) {
	ctx := context.Background()
	reg, rec := newTestRegistry()

	err := reg.SetBinding(ctx, stranger, asset.Native(), ethFeed)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, ok, _ := reg.Binding(ctx, asset.Native()); ok {
		t.Fatal("binding must not be written by a stranger")
	}
	if len(rec.Events) != 0 {
		t.Fatalf("expected no events, got %v", rec.Kinds())
	}
}

func TestSetBindingOverwritesAndEmits(t *testing.T) {
	ctx := context.Background()
	reg, rec := newTestRegistry()

	if err := reg.SetBinding(ctx, controller, asset.Native(), ethFeed); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := reg.SetBinding(ctx, controller, asset.Native(), otherFeed); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	feed, ok, err := reg.Binding(ctx, asset.Native())
	if err != nil || !ok || feed != otherFeed {
		t.Fatalf("expected %s bound, got %s %v %v", otherFeed.Hex(), feed.Hex(), ok, err)
	}
	if len(rec.Events) != 2 || rec.Events[1].Kind != events.KindFeedBound {
		t.Fatalf("unexpected events %v", rec.Kinds())
	}
	if rec.Events[1].Attributes["previous"] != ethFeed.Hex() {
		t.Fatalf("expected previous feed recorded, got %v", rec.Events[1].Attributes)
	}

	if err := reg.SetBinding(ctx, controller, asset.Native(), common.Address{}); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if _, ok, _ := reg.Binding(ctx, asset.Native()); ok {
		t.Fatal("expected binding removed")
	}
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	reg, rec := newTestRegistry()

	if err := reg.TransferOwnership(ctx, stranger, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := reg.TransferOwnership(ctx, controller, common.Address{}); !errors.Is(err, ErrInvalidOwner) {
		t.Fatalf("expected invalid owner, got %v", err)
	}
	if err := reg.TransferOwnership(ctx, controller, stranger); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if owner, _ := reg.Owner(ctx); owner != stranger {
		t.Fatalf("expected new owner %s, got %s", stranger.Hex(), owner.Hex())
	}
	if err := reg.SetBinding(ctx, controller, asset.Native(), ethFeed); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous controller must lose access, got %v", err)
	}
	if err := reg.SetBinding(ctx, stranger, asset.Native(), ethFeed); err != nil {
		t.Fatalf("new controller bind: %v", err)
	}
	if rec.Kinds()[0] != events.KindOwnershipTransferred {
		t.Fatalf("unexpected events %v", rec.Kinds())
	}
}
