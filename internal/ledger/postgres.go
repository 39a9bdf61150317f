package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kipu-bank/kipu_bank/internal/asset"
)

// PostgresLedger persists balances, the USD accumulator and a journal of
// entries in PostgreSQL. The vault_state row lock serialises writers across
// processes.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureState guarantees the singleton accumulator row exists.
func (l *PostgresLedger) EnsureState(ctx context.Context) error {
	_, err := l.db.Exec(ctx, `INSERT INTO vault_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING`)
	return err
}

// Balance returns the stored amount of asset id held by holder.
func (l *PostgresLedger) Balance(ctx context.Context, holder common.Address, id asset.ID) (*big.Int, error) {
	return balanceOf(ctx, l.db, holder, id, false)
}

// TotalUSD returns the running USD accumulator.
func (l *PostgresLedger) TotalUSD(ctx context.Context) (*big.Int, error) {
	stats, err := l.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return stats.TotalUSD, nil
}

// Stats returns the accumulator and global counters.
func (l *PostgresLedger) Stats(ctx context.Context) (Stats, error) {
	const query = `SELECT total_usd::text, deposit_count, withdrawal_count FROM vault_state WHERE id = 1`
	var (
		total                 string
		deposits, withdrawals int64
	)
	if err := l.db.QueryRow(ctx, query).Scan(&total, &deposits, &withdrawals); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stats{TotalUSD: new(big.Int)}, nil
		}
		return Stats{}, err
	}
	totalUSD, err := parseNumeric(total)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalUSD: totalUSD, Deposits: uint64(deposits), Withdrawals: uint64(withdrawals)}, nil
}

// HolderStats returns the per-holder counters.
func (l *PostgresLedger) HolderStats(ctx context.Context, holder common.Address) (HolderStats, error) {
	const query = `SELECT deposit_count, withdrawal_count FROM holder_counters WHERE holder = $1`
	var deposits, withdrawals int64
	if err := l.db.QueryRow(ctx, query, holder.Hex()).Scan(&deposits, &withdrawals); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return HolderStats{Holder: holder}, nil
		}
		return HolderStats{}, err
	}
	return HolderStats{Holder: holder, Deposits: uint64(deposits), Withdrawals: uint64(withdrawals)}, nil
}

// Begin opens a database transaction holding the vault_state row lock.
func (l *PostgresLedger) Begin(ctx context.Context) (Tx, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	var total string
	if err := tx.QueryRow(ctx, `SELECT total_usd::text FROM vault_state WHERE id = 1 FOR UPDATE`).Scan(&total); err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("vault state row missing")
		}
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx   pgx.Tx
	done bool
}

func (t *postgresTx) Balance(ctx context.Context, holder common.Address, id asset.ID) (*big.Int, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return balanceOf(ctx, t.tx, holder, id, false)
}

func (t *postgresTx) CurrentGlobalUSD(ctx context.Context) (*big.Int, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return t.totalUSD(ctx)
}

func (t *postgresTx) totalUSD(ctx context.Context) (*big.Int, error) {
	var total string
	if err := t.tx.QueryRow(ctx, `SELECT total_usd::text FROM vault_state WHERE id = 1`).Scan(&total); err != nil {
		return nil, err
	}
	return parseNumeric(total)
}

func (t *postgresTx) Credit(ctx context.Context, e Entry, capUSD *big.Int) (Receipt, error) {
	if t.done {
		return Receipt{}, ErrTxDone
	}
	if err := validateEntry(e); err != nil {
		return Receipt{}, err
	}

	total, err := t.totalUSD(ctx)
	if err != nil {
		return Receipt{}, err
	}
	nextTotal, err := checkCap(total, e.USD, capUSD)
	if err != nil {
		return Receipt{}, err
	}

	var balance string
	if err := t.tx.QueryRow(ctx, `INSERT INTO holder_balances (holder, asset, amount) VALUES ($1, $2, $3::numeric)
        ON CONFLICT (holder, asset) DO UPDATE SET amount = holder_balances.amount + EXCLUDED.amount
        RETURNING amount::text`, e.Holder.Hex(), e.Asset.String(), e.Amount.String()).Scan(&balance); err != nil {
		return Receipt{}, err
	}

	if _, err := t.tx.Exec(ctx, `UPDATE vault_state SET total_usd = $1::numeric, deposit_count = deposit_count + 1 WHERE id = 1`, nextTotal.String()); err != nil {
		return Receipt{}, err
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO holder_counters (holder, deposit_count, withdrawal_count) VALUES ($1, 1, 0)
        ON CONFLICT (holder) DO UPDATE SET deposit_count = holder_counters.deposit_count + 1`, e.Holder.Hex()); err != nil {
		return Receipt{}, err
	}

	id, err := t.journal(ctx, EntryKindDeposit, e)
	if err != nil {
		return Receipt{}, err
	}

	nextBalance, err := parseNumeric(balance)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{EntryID: id, Balance: nextBalance, TotalUSD: nextTotal}, nil
}

func (t *postgresTx) Debit(ctx context.Context, e Entry) (Receipt, error) {
	if t.done {
		return Receipt{}, ErrTxDone
	}
	if err := validateEntry(e); err != nil {
		return Receipt{}, err
	}

	balance, err := balanceOf(ctx, t.tx, e.Holder, e.Asset, true)
	if err != nil {
		return Receipt{}, err
	}
	total, err := t.totalUSD(ctx)
	if err != nil {
		return Receipt{}, err
	}
	nextBalance, nextTotal, err := checkDebit(balance, total, e)
	if err != nil {
		return Receipt{}, err
	}

	if _, err := t.tx.Exec(ctx, `UPDATE holder_balances SET amount = $3::numeric WHERE holder = $1 AND asset = $2`,
		e.Holder.Hex(), e.Asset.String(), nextBalance.String()); err != nil {
		return Receipt{}, err
	}
	if _, err := t.tx.Exec(ctx, `UPDATE vault_state SET total_usd = $1::numeric, withdrawal_count = withdrawal_count + 1 WHERE id = 1`, nextTotal.String()); err != nil {
		return Receipt{}, err
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO holder_counters (holder, deposit_count, withdrawal_count) VALUES ($1, 0, 1)
        ON CONFLICT (holder) DO UPDATE SET withdrawal_count = holder_counters.withdrawal_count + 1`, e.Holder.Hex()); err != nil {
		return Receipt{}, err
	}

	id, err := t.journal(ctx, EntryKindWithdrawal, e)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{EntryID: id, Balance: nextBalance, TotalUSD: nextTotal}, nil
}

func (t *postgresTx) journal(ctx context.Context, kind string, e Entry) (string, error) {
	id := uuid.New()
	if _, err := t.tx.Exec(ctx, `INSERT INTO ledger_entries (id, holder, asset, kind, amount, usd) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric)`,
		id, e.Holder.Hex(), e.Asset.String(), kind, e.Amount.String(), e.USD.String()); err != nil {
		return "", err
	}
	return id.String(), nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Rollback(ctx)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func balanceOf(ctx context.Context, q queryRower, holder common.Address, id asset.ID, forUpdate bool) (*big.Int, error) {
	query := `SELECT amount::text FROM holder_balances WHERE holder = $1 AND asset = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var amount string
	if err := q.QueryRow(ctx, query, holder.Hex(), id.String()).Scan(&amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return parseNumeric(amount)
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}
