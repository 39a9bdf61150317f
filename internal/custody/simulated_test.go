package custody

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	usdc  = common.HexToAddress("0x000000000000000000000000000000000000c0de")
)

func TestSimulatedPullRequiresAllowance(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated()
	sim.Fund(alice, asset.Token(usdc), big.NewInt(1_000))

	_, err := sim.Pull(ctx, alice, usdc, big.NewInt(100))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	var tf *TransferFailedError
	if !errors.As(err, &tf) || tf.Target != alice || tf.Amount.Int64() != 100 {
		t.Fatalf("unexpected error detail: %v", err)
	}

	sim.Approve(alice, usdc, big.NewInt(300))
	if _, err := sim.Pull(ctx, alice, usdc, big.NewInt(100)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if got := sim.Held(asset.Token(usdc)); got.Int64() != 100 {
		t.Fatalf("expected 100 held, got %s", got)
	}
	if got := sim.WalletBalance(alice, asset.Token(usdc)); got.Int64() != 900 {
		t.Fatalf("expected 900 in wallet, got %s", got)
	}
	if _, err := sim.Pull(ctx, alice, usdc, big.NewInt(250)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected allowance to be consumed, got %v", err)
	}
}

func TestSimulatedReleaseHookFailureUndoes(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated()
	sim.Fund(alice, asset.Native(), big.NewInt(50))
	if _, err := sim.ClaimNative(ctx, alice, big.NewInt(50), "ref-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	rejected := errors.New("recipient rejected")
	sim.OnRelease(func(context.Context, common.Address, asset.ID, *big.Int) error { return rejected })

	_, err := sim.Release(ctx, alice, asset.Native(), big.NewInt(20))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, rejected) {
		t.Fatalf("expected hook failure, got %v", err)
	}
	if got := sim.Held(asset.Native()); got.Int64() != 50 {
		t.Fatalf("expected custody untouched, got %s", got)
	}
	if got := sim.WalletBalance(alice, asset.Native()); got.Sign() != 0 {
		t.Fatalf("expected wallet untouched, got %s", got)
	}
}

func TestSimulatedClaimNativeReplay(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulated()
	sim.Fund(alice, asset.Native(), big.NewInt(10))

	if _, err := sim.ClaimNative(ctx, alice, big.NewInt(5), "tx-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := sim.ClaimNative(ctx, alice, big.NewInt(5), "tx-1"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
	if _, err := sim.ClaimNative(ctx, alice, big.NewInt(6), "tx-2"); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}
