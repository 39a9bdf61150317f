package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName         = "KipuBank"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultBankCapUSD      = "1000000"
	defaultDevNativePrice  = "2000"
	defaultEventStream     = "kipu:events:v1"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultSignatureSkew   = 5 * time.Minute
	defaultConfirmTimeout  = 2 * time.Minute
	defaultRateLimitPerMin = 60
	usdDecimals            = 6
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	confirmSecondsEnvVar   = "TX_CONFIRM_TIMEOUT_SECONDS"
	confirmDurationEnvVar  = "TX_CONFIRM_TIMEOUT"
	signatureSkewEnvVar    = "SIGNATURE_MAX_SKEW"
	rateLimitEnvVar        = "RATE_LIMIT_PER_MINUTE"
	bankCapEnvVar          = "BANK_CAP_USD"
	adminAddressEnvVar     = "ADMIN_ADDRESS"
	custodyKeyEnvVar       = "CUSTODY_PRIVATE_KEY"
	devNativePriceEnvVar   = "DEV_NATIVE_PRICE_USD"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName            string
	AppEnv             string
	Port               string
	LogLevel           string
	DatabaseURL        string
	RedisURL           string
	EthRPCURL          string
	EventStream        string
	BankCapUSD         *big.Int
	AdminAddress       common.Address
	CustodyKey         *ecdsa.PrivateKey
	DevNativePriceUSD  decimal.Decimal
	ShutdownPeriod     time.Duration
	IdempotencyTTL     time.Duration
	SignatureMaxSkew   time.Duration
	TxConfirmTimeout   time.Duration
	RateLimitPerMinute int
}

// Load reads configuration values from the environment, after seeding it
// from a .env file when one exists, and populates a Config instance.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		EthRPCURL:          os.Getenv("ETH_RPC_URL"),
		EventStream:        getEnv("EVENT_STREAM", defaultEventStream),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		SignatureMaxSkew:   defaultSignatureSkew,
		TxConfirmTimeout:   defaultConfirmTimeout,
		RateLimitPerMinute: defaultRateLimitPerMin,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.TxConfirmTimeout, err = durationEnv(confirmSecondsEnvVar, confirmDurationEnvVar, cfg.TxConfirmTimeout); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(signatureSkewEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", signatureSkewEnvVar, err)
		}
		cfg.SignatureMaxSkew = d
	}
	if v := os.Getenv(rateLimitEnvVar); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", rateLimitEnvVar, v)
		}
		cfg.RateLimitPerMinute = n
	}

	if cfg.BankCapUSD, err = ParseUSD(getEnv(bankCapEnvVar, defaultBankCapUSD)); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", bankCapEnvVar, err)
	}
	if cfg.DevNativePriceUSD, err = decimal.NewFromString(getEnv(devNativePriceEnvVar, defaultDevNativePrice)); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", devNativePriceEnvVar, err)
	}

	admin := os.Getenv(adminAddressEnvVar)
	if !common.IsHexAddress(admin) {
		return Config{}, fmt.Errorf("%s must be set to a hex address", adminAddressEnvVar)
	}
	cfg.AdminAddress = common.HexToAddress(admin)

	if v := os.Getenv(custodyKeyEnvVar); v != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(v, "0x"))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", custodyKeyEnvVar, err)
		}
		cfg.CustodyKey = key
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.EthRPCURL == "" {
			return Config{}, fmt.Errorf("ETH_RPC_URL must be set")
		}
		if cfg.CustodyKey == nil {
			return Config{}, fmt.Errorf("%s must be set", custodyKeyEnvVar)
		}
	}

	return cfg, nil
}

// ParseUSD converts a decimal dollar string such as "1000000" or "12.5" into
// six-decimal fixed point. More than six fractional digits are rejected.
func ParseUSD(raw string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %s is negative", raw)
	}
	scaled := d.Shift(usdDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", raw, usdDecimals)
	}
	return scaled.BigInt(), nil
}

// IsDevelopment reports whether the app runs in a local environment where
// Postgres, Redis and the chain are optional.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
