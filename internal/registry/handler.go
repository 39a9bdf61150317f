package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/middleware"
)

// Handler exposes admin HTTP endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler builds an admin HTTP handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

type bindRequest struct {
	Feed string `json:"feed"`
}

type ownerRequest struct {
	NewOwner string `json:"new_owner"`
}

type bindingResponse struct {
	Asset     string    `json:"asset"`
	Feed      string    `json:"feed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feeds lists the current bindings and the controller.
func (h *Handler) Feeds(c *fiber.Ctx) error {
	bindings, err := h.registry.Bindings(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	owner, err := h.registry.Owner(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]bindingResponse, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, bindingResponse{Asset: b.Asset.String(), Feed: b.Feed.Hex(), UpdatedAt: b.UpdatedAt})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"owner": owner.Hex(), "feeds": out})
}

// BindFeed binds the asset in the path to the feed in the body.
func (h *Handler) BindFeed(c *fiber.Ctx) error {
	caller, ok := middleware.Caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthenticated")
	}
	id, err := asset.Parse(c.Params("asset"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	var req bindRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if !common.IsHexAddress(req.Feed) {
		return fiber.NewError(http.StatusBadRequest, "feed must be a hex address")
	}
	feed := common.HexToAddress(req.Feed)

	if err := h.registry.SetBinding(c.UserContext(), caller, id, feed); err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"asset": id.String(), "feed": feed.Hex()})
}

// TransferOwnership hands control to another address.
func (h *Handler) TransferOwnership(c *fiber.Ctx) error {
	caller, ok := middleware.Caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthenticated")
	}
	var req ownerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if !common.IsHexAddress(req.NewOwner) {
		return fiber.NewError(http.StatusBadRequest, "new_owner must be a hex address")
	}
	newOwner := common.HexToAddress(req.NewOwner)
	if err := h.registry.TransferOwnership(c.UserContext(), caller, newOwner); err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"owner": newOwner.Hex()})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidOwner), errors.Is(err, asset.ErrInvalidAsset):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
