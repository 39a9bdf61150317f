package routes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/custody"
	"github.com/kipu-bank/kipu_bank/internal/events"
	"github.com/kipu-bank/kipu_bank/internal/ledger"
	"github.com/kipu-bank/kipu_bank/internal/oracle"
	"github.com/kipu-bank/kipu_bank/internal/registry"
	"github.com/kipu-bank/kipu_bank/internal/token"
	"github.com/kipu-bank/kipu_bank/internal/valuation"
	"github.com/kipu-bank/kipu_bank/internal/vault"
)

const eventStreamMaxLen = 10_000

// DevNativeFeed is where the simulated native price feed lives when no RPC endpoint is configured.
var DevNativeFeed = common.HexToAddress("0x000000000000000000000000000000000000fEED")

type domain struct {
	vault     *vault.Service
	registry  *registry.Registry
	simulated *custody.Simulated
}

func buildDomain(ctx context.Context, d Deps) (domain, error) {
	publisher := events.Fanout{events.NewLoggerPublisher(d.Logger)}
	if d.Cache != nil {
		publisher = append(publisher, events.NewRedisPublisher(d.Cache, d.Cfg.EventStream, eventStreamMaxLen))
	}

	var store registry.Store
	var ledgerBackend ledger.Ledger
	if d.DB != nil {
		pgStore := registry.NewPostgresStore(d.DB)
		if err := pgStore.EnsureOwner(ctx, d.Cfg.AdminAddress); err != nil {
			return domain{}, fmt.Errorf("ensure controller: %w", err)
		}
		store = pgStore
		pgLedger := ledger.NewPostgresLedger(d.DB)
		if err := pgLedger.EnsureState(ctx); err != nil {
			return domain{}, fmt.Errorf("ensure ledger state: %w", err)
		}
		ledgerBackend = pgLedger
	} else {
		store = registry.NewMemoryStore(d.Cfg.AdminAddress)
		ledgerBackend = ledger.NewInMemory()
	}
	reg := registry.New(store, publisher, d.Logger)

	var (
		feeds     oracle.FeedResolver
		meta      token.Metadata
		transfers custody.Transferer
		intake    custody.Intake
		sim       *custody.Simulated
	)
	if d.Eth != nil {
		if d.Cfg.CustodyKey == nil {
			return domain{}, fmt.Errorf("custody key is required with an RPC endpoint")
		}
		var claims custody.ClaimStore = custody.NewMemoryClaims()
		if d.Cache != nil {
			claims = custody.NewRedisClaims(d.Cache)
		}
		evm, err := custody.NewEVM(ctx, d.Eth, d.Cfg.CustodyKey, claims, custody.WithConfirmTimeout(d.Cfg.TxConfirmTimeout))
		if err != nil {
			return domain{}, err
		}
		d.Logger.Info("evm custody ready", slog.String("custody", evm.Address().Hex()))
		feeds = oracle.NewChainlinkFeeds(d.Eth)
		meta = token.NewERC20Metadata(d.Eth)
		transfers, intake = evm, evm
	} else {
		static := oracle.NewStaticFeeds()
		price := d.Cfg.DevNativePriceUSD.Shift(8).BigInt()
		static.Register(DevNativeFeed, oracle.NewLiveStaticFeed(8, price, time.Now))
		if _, bound, err := reg.Binding(ctx, asset.Native()); err != nil {
			return domain{}, err
		} else if !bound {
			if err := reg.SetBinding(ctx, d.Cfg.AdminAddress, asset.Native(), DevNativeFeed); err != nil {
				return domain{}, fmt.Errorf("bind development feed: %w", err)
			}
		}
		sim = custody.NewSimulated()
		feeds = static
		meta = token.NewStaticMetadata()
		transfers, intake = sim, sim
	}

	svc, err := vault.NewService(d.Cfg.BankCapUSD, vault.Dependencies{
		Ledger:    ledgerBackend,
		Valuer:    valuation.NewEngine(oracle.NewAdapter(reg, feeds), meta),
		Transfers: transfers,
		Intake:    intake,
		Publisher: publisher,
		Logger:    d.Logger,
	})
	if err != nil {
		return domain{}, err
	}
	return domain{vault: svc, registry: reg, simulated: sim}, nil
}
