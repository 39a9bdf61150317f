package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/custody"
	"github.com/kipu-bank/kipu_bank/internal/events"
	"github.com/kipu-bank/kipu_bank/internal/ledger"
	"github.com/kipu-bank/kipu_bank/internal/logging"
	"github.com/kipu-bank/kipu_bank/internal/valuation"
)

// Valuer prices native amounts in internal fixed-point USD.
type Valuer interface {
	ValueInUSD(ctx context.Context, id asset.ID, amount *big.Int, now time.Time) (*big.Int, error)
}

// Dependencies are the collaborators of the vault service.
type Dependencies struct {
	Ledger    ledger.Ledger
	Valuer    Valuer
	Transfers custody.Transferer
	Intake    custody.Intake
	Publisher events.Publisher
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes a committed deposit or withdrawal.
type Result struct {
	EntryID   string
	Holder    common.Address
	Asset     asset.ID
	Amount    *big.Int
	USD       *big.Int
	Balance   *big.Int
	TotalUSD  *big.Int
	Reference string
	// Confirmed is false when the transfer was submitted but its receipt was
	// not observed. The ledger reflects it; Reference identifies it.
	Confirmed bool
}

// Service orchestrates deposits and withdrawals against a fixed USD cap.
type Service struct {
	capUSD    *big.Int
	ledger    ledger.Ledger
	valuer    Valuer
	transfers custody.Transferer
	intake    custody.Intake
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	guard guard
}

// NewService builds a vault whose USD cap, in six-decimal fixed point, is fixed for its lifetime.
func NewService(capUSD *big.Int, deps Dependencies) (*Service, error) {
	if capUSD == nil || capUSD.Sign() < 0 {
		return nil, errors.New("bank cap must be a non-negative amount")
	}
	if deps.Ledger == nil || deps.Valuer == nil || deps.Transfers == nil {
		return nil, errors.New("ledger, valuer and transfers are required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		capUSD:    new(big.Int).Set(capUSD),
		ledger:    deps.Ledger,
		valuer:    deps.Valuer,
		transfers: deps.Transfers,
		intake:    deps.Intake,
		publisher: deps.Publisher,
		logger:    logging.Component(deps.Logger, "vault"),
		now:       now,
	}, nil
}

// CapUSD returns the immutable cap.
func (s *Service) CapUSD() *big.Int { return new(big.Int).Set(s.capUSD) }

// Balance returns holder's balance of id in native precision.
func (s *Service) Balance(ctx context.Context, holder common.Address, id asset.ID) (*big.Int, error) {
	if !id.Valid() {
		return nil, asset.ErrInvalidAsset
	}
	return s.ledger.Balance(ctx, holder, id)
}

// Stats returns the USD total and global counters.
func (s *Service) Stats(ctx context.Context) (ledger.Stats, error) {
	return s.ledger.Stats(ctx)
}

// HolderStats returns holder's counters.
func (s *Service) HolderStats(ctx context.Context, holder common.Address) (ledger.HolderStats, error) {
	return s.ledger.HolderStats(ctx, holder)
}

// DepositNative credits native value attached under ref. The attachment is
// claimed first and returned to the holder if the deposit is rejected.
func (s *Service) DepositNative(ctx context.Context, holder common.Address, amount *big.Int, ref string) (Result, error) {
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := checkAmount(amount); err != nil {
		return Result{}, err
	}
	if s.intake == nil {
		return Result{}, errors.New("native intake is not configured")
	}
	id := asset.Native()

	var claim custody.Receipt
	err = s.guard.external(func() (err error) {
		claim, err = s.intake.ClaimNative(ctx, holder, amount, ref)
		return err
	})
	if err != nil {
		s.logger.Warn("native claim rejected", slog.String("holder", holder.Hex()), slog.String("ref", ref), slog.Any("error", err))
		return Result{}, err
	}

	usd, err := s.valuer.ValueInUSD(ctx, id, amount, s.now())
	if err != nil {
		return Result{}, s.refund(ctx, holder, id, amount, err)
	}
	result, err := s.post(ctx, ledger.Entry{Holder: holder, Asset: id, Amount: amount, USD: usd})
	if err != nil {
		return Result{}, s.refund(ctx, holder, id, amount, err)
	}
	result.Reference = claim.Reference
	result.Confirmed = true

	s.emitDeposit(ctx, result)
	return result, nil
}

// DepositToken pulls amount of the token id from holder and credits it.
// Valuation and the cap check happen before any funds move.
func (s *Service) DepositToken(ctx context.Context, holder common.Address, id asset.ID, amount *big.Int) (Result, error) {
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := checkAmount(amount); err != nil {
		return Result{}, err
	}
	if id.IsNative() {
		return Result{}, ErrNotNativeAsset
	}
	tokenAddr, ok := id.TokenAddress()
	if !ok {
		return Result{}, asset.ErrInvalidAsset
	}

	usd, err := s.valuer.ValueInUSD(ctx, id, amount, s.now())
	if err != nil {
		return Result{}, err
	}

	total, err := s.ledger.TotalUSD(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := s.checkCap(total, usd); err != nil {
		return Result{}, err
	}

	// No ledger transaction is open across the pull. Credit re-checks the cap
	// and a rejection returns the pulled tokens.
	confirmed := true
	var pulled custody.Receipt
	err = s.guard.external(func() (err error) {
		pulled, err = s.transfers.Pull(ctx, holder, tokenAddr, amount)
		return err
	})
	var pending *custody.UnconfirmedError
	switch {
	case errors.As(err, &pending):
		confirmed = false
		pulled = custody.Receipt{Reference: pending.Reference}
		s.logger.Warn("pull submitted without confirmation, crediting",
			slog.String("holder", holder.Hex()), slog.String("asset", id.String()), slog.String("amount", amount.String()),
			slog.String("reference", pending.Reference), slog.Any("error", err))
	case err != nil:
		return Result{}, err
	}

	result, err := s.post(ctx, ledger.Entry{Holder: holder, Asset: id, Amount: amount, USD: usd})
	if err != nil {
		return Result{}, s.refund(ctx, holder, id, amount, err)
	}
	result.Reference = pulled.Reference
	result.Confirmed = confirmed
	s.emitDeposit(ctx, result)
	return result, nil
}

// Withdraw debits amount of id from holder and releases it. A failed release
// leaves balances, the USD total and counters exactly as they were. A release
// that was submitted but not confirmed keeps the debit and returns a result
// with Confirmed unset.
func (s *Service) Withdraw(ctx context.Context, holder common.Address, id asset.ID, amount *big.Int) (Result, error) {
	ctx, release, err := s.guard.enter(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := checkAmount(amount); err != nil {
		return Result{}, err
	}
	if !id.Valid() {
		return Result{}, asset.ErrInvalidAsset
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin ledger transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	balance, err := tx.Balance(ctx, holder, id)
	if err != nil {
		return Result{}, err
	}
	if amount.Cmp(balance) > 0 {
		return Result{}, &ledger.InsufficientBalanceError{Requested: new(big.Int).Set(amount), Available: balance}
	}

	usd, err := s.valuer.ValueInUSD(ctx, id, amount, s.now())
	if err != nil {
		return Result{}, err
	}

	receipt, err := tx.Debit(ctx, ledger.Entry{Holder: holder, Asset: id, Amount: amount, USD: usd})
	if err != nil {
		return Result{}, err
	}

	confirmed := true
	var released custody.Receipt
	err = s.guard.external(func() (err error) {
		released, err = s.transfers.Release(ctx, holder, id, amount)
		return err
	})
	var pending *custody.UnconfirmedError
	switch {
	case errors.As(err, &pending):
		// The release may already have paid out, so the debit stands.
		confirmed = false
		released = custody.Receipt{Reference: pending.Reference}
		s.logger.Warn("release submitted without confirmation, withdrawal kept",
			slog.String("holder", holder.Hex()), slog.String("asset", id.String()), slog.String("amount", amount.String()),
			slog.String("reference", pending.Reference), slog.Any("error", err))
	case err != nil:
		s.logger.Warn("release failed, withdrawal reverted",
			slog.String("holder", holder.Hex()), slog.String("asset", id.String()), slog.String("amount", amount.String()), slog.Any("error", err))
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("ledger commit failed after release",
			slog.String("holder", holder.Hex()), slog.String("asset", id.String()), slog.String("amount", amount.String()),
			slog.String("reference", released.Reference), slog.Any("error", err))
		return Result{}, fmt.Errorf("commit withdrawal: %w", err)
	}
	committed = true

	result := newResult(receipt, holder, id, amount, usd)
	result.Reference = released.Reference
	result.Confirmed = confirmed
	s.emit(ctx, events.KindWithdrawal, result)
	s.logger.Info("withdrawal committed", resultAttrs(result)...)
	return result, nil
}

func (s *Service) post(ctx context.Context, e ledger.Entry) (Result, error) {
	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin ledger transaction: %w", err)
	}
	receipt, err := tx.Credit(ctx, e, s.capUSD)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit deposit: %w", err)
	}
	return newResult(receipt, e.Holder, e.Asset, e.Amount, e.USD), nil
}

// refund returns a rejected deposit to holder and reports cause. A refund that
// was submitted but not confirmed counts as returned.
func (s *Service) refund(ctx context.Context, holder common.Address, id asset.ID, amount *big.Int, cause error) error {
	err := s.guard.external(func() error {
		_, err := s.transfers.Release(ctx, holder, id, amount)
		return err
	})
	switch {
	case err == nil:
		return cause
	case errors.Is(err, custody.ErrUnconfirmed):
		s.logger.Warn("refund submitted without confirmation",
			slog.String("holder", holder.Hex()), slog.String("asset", id.String()), slog.String("amount", amount.String()), slog.Any("error", err))
		return cause
	default:
		s.logger.Error("refund of rejected deposit failed",
			slog.String("holder", holder.Hex()), slog.String("asset", id.String()), slog.String("amount", amount.String()), slog.Any("error", err))
		return errors.Join(cause, err)
	}
}

func (s *Service) checkCap(total, usd *big.Int) error {
	next := new(big.Int).Add(total, usd)
	if next.Cmp(s.capUSD) > 0 {
		return &ledger.BankCapExceededError{Attempted: new(big.Int).Set(usd), WouldBeTotal: next, Cap: s.CapUSD()}
	}
	return nil
}

func (s *Service) emitDeposit(ctx context.Context, result Result) {
	s.emit(ctx, events.KindDeposit, result)
	s.logger.Info("deposit committed", resultAttrs(result)...)
}

func (s *Service) emit(ctx context.Context, kind string, result Result) {
	if s.publisher == nil {
		return
	}
	event := events.New(kind, map[string]string{
		"entry_id":  result.EntryID,
		"holder":    result.Holder.Hex(),
		"asset":     result.Asset.String(),
		"amount":    result.Amount.String(),
		"usd":       result.USD.String(),
		"usd_value": FormatUSD(result.USD),
		"balance":   result.Balance.String(),
		"total_usd": result.TotalUSD.String(),
		"reference": result.Reference,
		"confirmed": strconv.FormatBool(result.Confirmed),
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

// FormatUSD renders a six-decimal fixed-point USD figure, e.g. "200000.000000".
func FormatUSD(v *big.Int) string {
	if v == nil {
		v = new(big.Int)
	}
	return decimal.NewFromBigInt(v, -valuation.InternalDecimals).StringFixed(valuation.InternalDecimals)
}

func newResult(receipt ledger.Receipt, holder common.Address, id asset.ID, amount, usd *big.Int) Result {
	return Result{
		EntryID:  receipt.EntryID,
		Holder:   holder,
		Asset:    id,
		Amount:   new(big.Int).Set(amount),
		USD:      usd,
		Balance:  receipt.Balance,
		TotalUSD: receipt.TotalUSD,
	}
}

func resultAttrs(r Result) []any {
	return []any{
		slog.String("holder", r.Holder.Hex()),
		slog.String("asset", r.Asset.String()),
		slog.String("amount", r.Amount.String()),
		slog.String("usd", FormatUSD(r.USD)),
		slog.String("total_usd", FormatUSD(r.TotalUSD)),
	}
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return nil
}
