package vault

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/custody"
	"github.com/kipu-bank/kipu_bank/internal/ledger"
	"github.com/kipu-bank/kipu_bank/internal/middleware"
	"github.com/kipu-bank/kipu_bank/internal/oracle"
	"github.com/kipu-bank/kipu_bank/internal/token"
	"github.com/kipu-bank/kipu_bank/internal/valuation"
)

// Handler exposes vault HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a vault HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// NativeDepositRequest carries the attached amount and the reference of its transfer.
type NativeDepositRequest struct {
	Amount string `json:"amount"`
	TxRef  string `json:"tx_ref"`
}

// TokenDepositRequest names the token and the amount to pull.
type TokenDepositRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// WithdrawalRequest names the asset and amount to release.
type WithdrawalRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// OperationResponse is returned for committed deposits and withdrawals.
type OperationResponse struct {
	EntryID   string `json:"entry_id"`
	Holder    string `json:"holder"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	USD       string `json:"usd"`
	Balance   string `json:"balance"`
	TotalUSD  string `json:"total_usd"`
	Reference string `json:"reference,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// Summary reports the cap, the USD total and global counters.
func (h *Handler) Summary(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"cap_usd":     FormatUSD(h.service.CapUSD()),
		"total_usd":   FormatUSD(stats.TotalUSD),
		"deposits":    stats.Deposits,
		"withdrawals": stats.Withdrawals,
	})
}

// HolderSummary reports a holder's counters.
func (h *Handler) HolderSummary(c *fiber.Ctx) error {
	holder, err := parseHolder(c.Params("holder"))
	if err != nil {
		return err
	}
	stats, err := h.service.HolderStats(c.UserContext(), holder)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"holder":      holder.Hex(),
		"deposits":    stats.Deposits,
		"withdrawals": stats.Withdrawals,
	})
}

// Balance reports a holder's balance of one asset.
func (h *Handler) Balance(c *fiber.Ctx) error {
	holder, err := parseHolder(c.Params("holder"))
	if err != nil {
		return err
	}
	id, err := asset.Parse(c.Params("asset"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	balance, err := h.service.Balance(c.UserContext(), holder, id)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"holder":  holder.Hex(),
		"asset":   id.String(),
		"balance": balance.String(),
	})
}

// DepositNative credits native value the caller attached.
func (h *Handler) DepositNative(c *fiber.Ctx) error {
	caller, ok := middleware.Caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthenticated")
	}
	var req NativeDepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	result, err := h.service.DepositNative(c.UserContext(), caller, amount, req.TxRef)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(result))
}

// DepositToken pulls an approved token amount from the caller.
func (h *Handler) DepositToken(c *fiber.Ctx) error {
	caller, ok := middleware.Caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthenticated")
	}
	var req TokenDepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	id, err := asset.Parse(req.Token)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	result, err := h.service.DepositToken(c.UserContext(), caller, id, amount)
	if err != nil {
		return mapError(err)
	}
	return c.Status(operationStatus(result, http.StatusCreated)).JSON(toResponse(result))
}

// Withdraw releases an asset to the caller.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	caller, ok := middleware.Caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthenticated")
	}
	var req WithdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	id, err := asset.Parse(req.Asset)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	result, err := h.service.Withdraw(c.UserContext(), caller, id, amount)
	if err != nil {
		return mapError(err)
	}
	return c.Status(operationStatus(result, http.StatusOK)).JSON(toResponse(result))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrZeroAmount), errors.Is(err, ErrNegativeAmount), errors.Is(err, ErrNotNativeAsset),
		errors.Is(err, asset.ErrInvalidAsset):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, oracle.ErrNoPriceFeed), errors.Is(err, oracle.ErrFeedUnavailable), errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, valuation.ErrValueOverflow), errors.Is(err, valuation.ErrUnsupportedDecimals):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrBankCapExceeded):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, valuation.ErrStalePrice), errors.Is(err, valuation.ErrInvalidPrice):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrReentrantCall), errors.Is(err, custody.ErrAlreadyClaimed):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, custody.ErrTransferFailed):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fiber.NewError(http.StatusBadRequest, fmt.Sprintf("amount %q is not a base-10 integer", raw))
	}
	return amount, nil
}

func parseHolder(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fiber.NewError(http.StatusBadRequest, "holder must be a hex address")
	}
	return common.HexToAddress(raw), nil
}

func toResponse(r Result) OperationResponse {
	return OperationResponse{
		EntryID:   r.EntryID,
		Holder:    r.Holder.Hex(),
		Asset:     r.Asset.String(),
		Amount:    r.Amount.String(),
		USD:       FormatUSD(r.USD),
		Balance:   r.Balance.String(),
		TotalUSD:  FormatUSD(r.TotalUSD),
		Reference: r.Reference,
		Confirmed: r.Confirmed,
	}
}

// operationStatus is 202 for transfers still awaiting confirmation.
func operationStatus(r Result, done int) int {
	if !r.Confirmed {
		return http.StatusAccepted
	}
	return done
}
