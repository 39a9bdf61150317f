package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kipu-bank/kipu_bank/internal/config"
	"github.com/kipu-bank/kipu_bank/internal/infra"
	"github.com/kipu-bank/kipu_bank/internal/logging"
	"github.com/kipu-bank/kipu_bank/internal/server"
	"github.com/kipu-bank/kipu_bank/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	var eth *ethclient.Client
	if cfg.EthRPCURL != "" {
		eth, err = infra.NewEthClient(ctx, cfg.EthRPCURL)
		if err != nil {
			logger.Error("connect eth rpc", "error", err)
			os.Exit(1)
		}
		defer eth.Close()
	}

	srv, err := server.New(cfg, db, cache, eth, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}
	logger.Info("vault configured", "env", cfg.AppEnv, "bank_cap_usd", vault.FormatUSD(cfg.BankCapUSD), "admin", cfg.AdminAddress.Hex())

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
