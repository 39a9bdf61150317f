package routes

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/custody"
)

type faucetRequest struct {
	Holder string `json:"holder"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// RegisterDevRoutes exposes a faucet that funds simulated wallets and
// approves custody to pull them. Only wired when custody is simulated.
func RegisterDevRoutes(r fiber.Router, sim *custody.Simulated) {
	r.Post("/dev/faucet", func(c *fiber.Ctx) error {
		var req faucetRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if !common.IsHexAddress(req.Holder) {
			return fiber.NewError(http.StatusBadRequest, "holder must be a hex address")
		}
		id, err := asset.Parse(req.Asset)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		amount, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return fiber.NewError(http.StatusBadRequest, "amount must be a positive base-10 integer")
		}
		holder := common.HexToAddress(req.Holder)

		sim.Fund(holder, id, amount)
		if tokenAddr, ok := id.TokenAddress(); ok {
			sim.Approve(holder, tokenAddr, amount)
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"holder":  holder.Hex(),
			"asset":   id.String(),
			"balance": sim.WalletBalance(holder, id).String(),
		})
	})
}
