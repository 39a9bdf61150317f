package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kipu-bank/kipu_bank/internal/registry"
)

// RegisterAdminRoutes wires feed binding and ownership endpoints.
func RegisterAdminRoutes(r fiber.Router, h *registry.Handler, signed []fiber.Handler) {
	r.Get("/admin/feeds", h.Feeds)
	r.Put("/admin/feeds/:asset", chain(signed, h.BindFeed)...)
	r.Post("/admin/owner", chain(signed, h.TransferOwnership)...)
}
