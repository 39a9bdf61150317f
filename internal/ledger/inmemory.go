package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

type balanceKey struct {
	holder common.Address
	asset  asset.ID
}

type journalEntry struct {
	ID        string
	Kind      string
	Entry     Entry
	CreatedAt time.Time
}

type inMemoryLedger struct {
	// writer serialises transactions; mu guards the maps for readers.
	writer sync.Mutex
	mu     sync.RWMutex

	balances          map[balanceKey]*big.Int
	totalUSD          *big.Int
	deposits          uint64
	withdrawals       uint64
	holderDeposits    map[common.Address]uint64
	holderWithdrawals map[common.Address]uint64
	journal           []journalEntry
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development deployments.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:          make(map[balanceKey]*big.Int),
		totalUSD:          new(big.Int),
		holderDeposits:    make(map[common.Address]uint64),
		holderWithdrawals: make(map[common.Address]uint64),
	}
}

func (l *inMemoryLedger) Balance(_ context.Context, holder common.Address, id asset.ID) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(holder, id), nil
}

func (l *inMemoryLedger) TotalUSD(_ context.Context) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalUSD), nil
}

func (l *inMemoryLedger) Stats(_ context.Context) (Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{TotalUSD: new(big.Int).Set(l.totalUSD), Deposits: l.deposits, Withdrawals: l.withdrawals}, nil
}

func (l *inMemoryLedger) HolderStats(_ context.Context, holder common.Address) (HolderStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return HolderStats{Holder: holder, Deposits: l.holderDeposits[holder], Withdrawals: l.holderWithdrawals[holder]}, nil
}

func (l *inMemoryLedger) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.writer.Lock()
	return &inMemoryTx{l: l}, nil
}

func (l *inMemoryLedger) balanceLocked(holder common.Address, id asset.ID) *big.Int {
	if b, ok := l.balances[balanceKey{holder: holder, asset: id}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// inMemoryTx applies writes immediately and keeps an undo log, so state is
// visible to readers before commit and restored exactly on rollback.
type inMemoryTx struct {
	l    *inMemoryLedger
	undo []func()
	done bool
}

func (t *inMemoryTx) Balance(ctx context.Context, holder common.Address, id asset.ID) (*big.Int, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return t.l.Balance(ctx, holder, id)
}

func (t *inMemoryTx) CurrentGlobalUSD(ctx context.Context) (*big.Int, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return t.l.TotalUSD(ctx)
}

func (t *inMemoryTx) Credit(_ context.Context, e Entry, capUSD *big.Int) (Receipt, error) {
	if t.done {
		return Receipt{}, ErrTxDone
	}
	if err := validateEntry(e); err != nil {
		return Receipt{}, err
	}

	l := t.l
	l.mu.Lock()
	defer l.mu.Unlock()

	nextTotal, err := checkCap(l.totalUSD, e.USD, capUSD)
	if err != nil {
		return Receipt{}, err
	}
	key := balanceKey{holder: e.Holder, asset: e.Asset}
	nextBalance := new(big.Int).Add(l.balanceLocked(e.Holder, e.Asset), e.Amount)

	t.snapshotLocked(key)
	l.balances[key] = nextBalance
	l.totalUSD = nextTotal
	l.deposits++
	l.holderDeposits[e.Holder]++
	id := t.appendJournalLocked(EntryKindDeposit, e)

	return Receipt{EntryID: id, Balance: new(big.Int).Set(nextBalance), TotalUSD: new(big.Int).Set(nextTotal)}, nil
}

func (t *inMemoryTx) Debit(_ context.Context, e Entry) (Receipt, error) {
	if t.done {
		return Receipt{}, ErrTxDone
	}
	if err := validateEntry(e); err != nil {
		return Receipt{}, err
	}

	l := t.l
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{holder: e.Holder, asset: e.Asset}
	nextBalance, nextTotal, err := checkDebit(l.balanceLocked(e.Holder, e.Asset), l.totalUSD, e)
	if err != nil {
		return Receipt{}, err
	}

	t.snapshotLocked(key)
	l.balances[key] = nextBalance
	l.totalUSD = nextTotal
	l.withdrawals++
	l.holderWithdrawals[e.Holder]++
	id := t.appendJournalLocked(EntryKindWithdrawal, e)

	return Receipt{EntryID: id, Balance: new(big.Int).Set(nextBalance), TotalUSD: new(big.Int).Set(nextTotal)}, nil
}

func (t *inMemoryTx) snapshotLocked(key balanceKey) {
	l := t.l
	prevBalance, hadBalance := l.balances[key]
	prevTotal := new(big.Int).Set(l.totalUSD)
	prevDeposits, prevWithdrawals := l.deposits, l.withdrawals
	prevHolderDeposits, hadHolderDeposits := l.holderDeposits[key.holder]
	prevHolderWithdrawals, hadHolderWithdrawals := l.holderWithdrawals[key.holder]
	prevJournal := len(l.journal)

	t.undo = append(t.undo, func() {
		if hadBalance {
			l.balances[key] = prevBalance
		} else {
			delete(l.balances, key)
		}
		l.totalUSD = prevTotal
		l.deposits, l.withdrawals = prevDeposits, prevWithdrawals
		if hadHolderDeposits {
			l.holderDeposits[key.holder] = prevHolderDeposits
		} else {
			delete(l.holderDeposits, key.holder)
		}
		if hadHolderWithdrawals {
			l.holderWithdrawals[key.holder] = prevHolderWithdrawals
		} else {
			delete(l.holderWithdrawals, key.holder)
		}
		l.journal = l.journal[:prevJournal]
	})
}

func (t *inMemoryTx) appendJournalLocked(kind string, e Entry) string {
	id := uuid.NewString()
	t.l.journal = append(t.l.journal, journalEntry{
		ID:   id,
		Kind: kind,
		Entry: Entry{
			Holder: e.Holder,
			Asset:  e.Asset,
			Amount: new(big.Int).Set(e.Amount),
			USD:    new(big.Int).Set(e.USD),
		},
		CreatedAt: time.Now().UTC(),
	})
	return id
}

func (t *inMemoryTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.undo = nil
	t.l.writer.Unlock()
	return nil
}

func (t *inMemoryTx) Rollback(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.l.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.l.mu.Unlock()
	t.undo = nil
	t.l.writer.Unlock()
	return nil
}
