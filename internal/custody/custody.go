package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

var (
	// ErrTransferFailed is the sentinel every failed pull or release unwraps to.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrAlreadyClaimed indicates a native attachment reference was used before.
	ErrAlreadyClaimed = errors.New("attachment already claimed")
	// ErrUnconfirmed marks a transfer that was broadcast but whose outcome was
	// not observed. It does not unwrap to ErrTransferFailed: the funds may move.
	ErrUnconfirmed = errors.New("transfer submitted, not confirmed")
)

// TransferFailedError names the counterparty and amount of a failed transfer.
type TransferFailedError struct {
	Target common.Address
	Asset  asset.ID
	Amount *big.Int
	Err    error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer of %s %s with %s failed: %v", e.Amount, e.Asset, e.Target.Hex(), e.Err)
}

func (e *TransferFailedError) Unwrap() []error { return []error{ErrTransferFailed, e.Err} }

func failed(target common.Address, id asset.ID, amount *big.Int, err error) error {
	return &TransferFailedError{Target: target, Asset: id, Amount: new(big.Int).Set(amount), Err: err}
}

// UnconfirmedError names a broadcast transfer whose receipt was not seen.
// Reference identifies the submitted transaction for reconciliation.
type UnconfirmedError struct {
	Target    common.Address
	Asset     asset.ID
	Amount    *big.Int
	Reference string
	Err       error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("transfer of %s %s with %s submitted as %s, not confirmed: %v", e.Amount, e.Asset, e.Target.Hex(), e.Reference, e.Err)
}

func (e *UnconfirmedError) Unwrap() []error { return []error{ErrUnconfirmed, e.Err} }

func unconfirmed(target common.Address, id asset.ID, amount *big.Int, ref string, err error) error {
	return &UnconfirmedError{Target: target, Asset: id, Amount: new(big.Int).Set(amount), Reference: ref, Err: err}
}

// Receipt identifies a completed transfer.
type Receipt struct {
	Reference string
}

// Transferer is the all-or-nothing value transfer primitive used by the vault.
type Transferer interface {
	// Pull moves amount of token from holder into custody.
	Pull(ctx context.Context, holder, token common.Address, amount *big.Int) (Receipt, error)
	// Release moves amount of id from custody to holder.
	//
	// Both return *UnconfirmedError once a transfer has left the process but its
	// outcome is unknown; callers must treat it as possibly completed.
	Release(ctx context.Context, holder common.Address, id asset.ID, amount *big.Int) (Receipt, error)
}

// Intake confirms that native value was attached to a deposit request.
type Intake interface {
	ClaimNative(ctx context.Context, holder common.Address, amount *big.Int, ref string) (Receipt, error)
}
