package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kipu-bank/kipu_bank/internal/config"
	"github.com/kipu-bank/kipu_bank/internal/middleware"
	"github.com/kipu-bank/kipu_bank/internal/registry"
	"github.com/kipu-bank/kipu_bank/internal/vault"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Eth    *ethclient.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Eth == nil {
			return fmt.Errorf("eth rpc is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	dom, err := buildDomain(context.Background(), d)
	if err != nil {
		return err
	}

	var signatures middleware.SignatureStore = middleware.NewMemorySignatures(time.Now)
	if d.Cache != nil {
		signatures = middleware.NewRedisSignatures(d.Cache)
	}

	// Idempotency runs after authentication so that keys are scoped per caller.
	signed := []fiber.Handler{
		middleware.CallerAuth(d.Cfg.SignatureMaxSkew, time.Now, signatures),
		middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute),
	}
	if d.Cache != nil {
		signed = append(signed, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDOf(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterVaultRoutes(api, vault.NewHandler(dom.vault), signed)
	RegisterAdminRoutes(api, registry.NewHandler(dom.registry), signed)
	if dom.simulated != nil {
		RegisterDevRoutes(api, dom.simulated)
	}

	return nil
}
