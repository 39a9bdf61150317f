package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const testAdmin = "0x00000000000000000000000000000000000ad111"

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ADMIN_ADDRESS", testAdmin)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BankCapUSD.Int64() != 1_000_000_000_000 {
		t.Fatalf("expected default cap of $1,000,000, got %s", cfg.BankCapUSD)
	}
	if cfg.AdminAddress != common.HexToAddress(testAdmin) {
		t.Fatalf("unexpected admin %s", cfg.AdminAddress.Hex())
	}
	if cfg.SignatureMaxSkew != 5*time.Minute || cfg.RateLimitPerMinute != 60 || cfg.TxConfirmTimeout != 2*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadRequiresInfrastructureOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ADMIN_ADDRESS", testAdmin)
	t.Setenv("DATABASE_URL", "postgres://localhost/kipu")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing ETH_RPC_URL to fail")
	}

	t.Setenv("ETH_RPC_URL", "http://localhost:8545")
	t.Setenv("CUSTODY_PRIVATE_KEY", "0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CustodyKey == nil {
		t.Fatal("expected custody key parsed")
	}
}

func TestLoadRejectsMissingAdmin(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ADMIN_ADDRESS", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing admin to fail")
	}
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ADMIN_ADDRESS", testAdmin)
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 3*time.Second || cfg.IdempotencyTTL != 90*time.Minute {
		t.Fatalf("unexpected durations %v %v", cfg.ShutdownPeriod, cfg.IdempotencyTTL)
	}
}

func TestParseUSD(t *testing.T) {
	got, err := ParseUSD("12.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Int64() != 12_500_000 {
		t.Fatalf("expected 12500000, got %s", got)
	}
	if _, err := ParseUSD("0.0000001"); err == nil {
		t.Fatal("expected more than six decimals to fail")
	}
	if _, err := ParseUSD("-1"); err == nil {
		t.Fatal("expected negative cap to fail")
	}
}
