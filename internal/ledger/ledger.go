package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

var (
	// ErrInsufficientBalance occurs when a debit exceeds the holder's stored balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBankCapExceeded occurs when a credit would push the USD accumulator above the cap.
	ErrBankCapExceeded = errors.New("bank cap exceeded")

	// ErrAccumulatorUnderflow occurs when a debit's USD value exceeds the running total.
	ErrAccumulatorUnderflow = errors.New("usd accumulator underflow")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("ledger transaction already finished")
)

const (
	// EntryKindDeposit tags journal entries created by Credit.
	EntryKindDeposit = "deposit"
	// EntryKindWithdrawal tags journal entries created by Debit.
	EntryKindWithdrawal = "withdrawal"
)

// InsufficientBalanceError reports the requested and available amounts.
type InsufficientBalanceError struct {
	Requested *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %s, available %s", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// BankCapExceededError reports the rejected USD amount, the total it would
// have produced and the cap.
type BankCapExceededError struct {
	Attempted    *big.Int
	WouldBeTotal *big.Int
	Cap          *big.Int
}

func (e *BankCapExceededError) Error() string {
	return fmt.Sprintf("bank cap exceeded: adding %s would bring total to %s, cap is %s", e.Attempted, e.WouldBeTotal, e.Cap)
}

func (e *BankCapExceededError) Unwrap() error { return ErrBankCapExceeded }

// Entry is a single balance movement together with its already validated USD value.
type Entry struct {
	Holder common.Address
	Asset  asset.ID
	Amount *big.Int
	USD    *big.Int
}

// Receipt captures the outcome of a posting.
type Receipt struct {
	EntryID  string
	Balance  *big.Int
	TotalUSD *big.Int
}

// Stats are the global observability figures.
type Stats struct {
	TotalUSD    *big.Int
	Deposits    uint64
	Withdrawals uint64
}

// HolderStats are the per-holder operation counters.
type HolderStats struct {
	Holder      common.Address
	Deposits    uint64
	Withdrawals uint64
}

// Reader exposes read-only queries. Unknown holders and assets read as zero.
type Reader interface {
	Balance(ctx context.Context, holder common.Address, id asset.ID) (*big.Int, error)
	TotalUSD(ctx context.Context) (*big.Int, error)
	Stats(ctx context.Context) (Stats, error)
	HolderStats(ctx context.Context, holder common.Address) (HolderStats, error)
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	Reader
	// Begin opens an exclusive write transaction. Only one transaction is
	// active at a time; others block until it commits or rolls back.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the only way to mutate balances, the USD accumulator and counters.
// Balance and accumulator always change together in Credit and Debit.
type Tx interface {
	Balance(ctx context.Context, holder common.Address, id asset.ID) (*big.Int, error)
	CurrentGlobalUSD(ctx context.Context) (*big.Int, error)
	// Credit adds the entry and increments deposit counters. When capUSD is
	// non-nil the resulting total must not exceed it.
	Credit(ctx context.Context, e Entry, capUSD *big.Int) (Receipt, error)
	// Debit removes the entry and increments withdrawal counters. It never
	// partially applies.
	Debit(ctx context.Context, e Entry) (Receipt, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

func validateEntry(e Entry) error {
	if !e.Asset.Valid() {
		return asset.ErrInvalidAsset
	}
	if e.Amount == nil || e.Amount.Sign() < 0 || e.USD == nil || e.USD.Sign() < 0 {
		return fmt.Errorf("entry amounts must be non-negative")
	}
	return nil
}

func checkCap(total, usd, capUSD *big.Int) (*big.Int, error) {
	next := new(big.Int).Add(total, usd)
	if capUSD != nil && next.Cmp(capUSD) > 0 {
		return nil, &BankCapExceededError{
			Attempted:    new(big.Int).Set(usd),
			WouldBeTotal: next,
			Cap:          new(big.Int).Set(capUSD),
		}
	}
	return next, nil
}

func checkDebit(balance, total *big.Int, e Entry) (*big.Int, *big.Int, error) {
	if e.Amount.Cmp(balance) > 0 {
		return nil, nil, &InsufficientBalanceError{
			Requested: new(big.Int).Set(e.Amount),
			Available: new(big.Int).Set(balance),
		}
	}
	if e.USD.Cmp(total) > 0 {
		return nil, nil, fmt.Errorf("%w: total %s, debit %s", ErrAccumulatorUnderflow, total, e.USD)
	}
	return new(big.Int).Sub(balance, e.Amount), new(big.Int).Sub(total, e.USD), nil
}
