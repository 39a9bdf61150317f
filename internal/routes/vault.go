package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kipu-bank/kipu_bank/internal/vault"
)

// RegisterVaultRoutes wires read endpoints publicly and mutators behind signed.
func RegisterVaultRoutes(r fiber.Router, h *vault.Handler, signed []fiber.Handler) {
	r.Get("/vault", h.Summary)
	r.Get("/vault/holders/:holder", h.HolderSummary)
	r.Get("/vault/holders/:holder/balances/:asset", h.Balance)

	r.Post("/vault/deposits/native", chain(signed, h.DepositNative)...)
	r.Post("/vault/deposits/token", chain(signed, h.DepositToken)...)
	r.Post("/vault/withdrawals", chain(signed, h.Withdraw)...)
}

func chain(pre []fiber.Handler, h fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(pre)+1)
	out = append(out, pre...)
	return append(out, h)
}
