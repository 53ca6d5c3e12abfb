package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/layer-3/paygate/core"
)

// Prefix is prepended to every variable name.
const Prefix = "PAYGATE_"

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreBolt   = "bolt"
)

// Config is the process configuration of the gate.
type Config struct {
	Addr     string `env:"ADDR" envDefault:":9000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Recipient  string `env:"RECIPIENT"`
	SigningKey string `env:"SIGNING_KEY"`

	ChainID      int64         `env:"CHAIN_ID" envDefault:"1"`
	RPCURL       string        `env:"RPC_URL"`
	ChainTimeout time.Duration `env:"CHAIN_TIMEOUT" envDefault:"10s"`

	ChallengeTTL   time.Duration `env:"CHALLENGE_TTL" envDefault:"5m"`
	AccessDuration time.Duration `env:"ACCESS_DURATION" envDefault:"1h"`
	DefaultPrice   string        `env:"DEFAULT_PRICE" envDefault:"1000"`
	Retention      time.Duration `env:"RETENTION" envDefault:"5m"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	Store    string `env:"STORE" envDefault:"memory"`
	RedisURL string `env:"REDIS_URL"`
	BoltPath string `env:"BOLT_PATH" envDefault:"paygate.db"`

	Upstream    string   `env:"UPSTREAM"`
	PricingFile string   `env:"PRICING_FILE"`
	Protected   []string `env:"PROTECTED" envSeparator:","`
	Excluded    []string `env:"EXCLUDED" envSeparator:","`

	EIP712Name     string `env:"EIP712_NAME" envDefault:"paygate"`
	EIP712Version  string `env:"EIP712_VERSION" envDefault:"1"`
	EIP712Contract string `env:"EIP712_CONTRACT"`

	AttestationKey string `env:"ATTESTATION_KEY"`
	OTelEndpoint   string `env:"OTEL_ENDPOINT"`
}

// Load reads an optional .env file from the working directory and then the
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the environment and validates it.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfiguration, fmt.Sprintf(format, args...))
}

// Validate reports the first setting that would prevent the gate from starting.
func (c *Config) Validate() error {
	if c.Recipient == "" {
		return invalid("%sRECIPIENT must be set", Prefix)
	}
	if !common.IsHexAddress(c.Recipient) {
		return invalid("%sRECIPIENT is not an address: %q", Prefix, c.Recipient)
	}
	if c.SigningKey == "" {
		return invalid("%sSIGNING_KEY must be set", Prefix)
	}
	if c.EIP712Contract != "" && !common.IsHexAddress(c.EIP712Contract) {
		return invalid("%sEIP712_CONTRACT is not an address: %q", Prefix, c.EIP712Contract)
	}
	if _, err := c.Price(); err != nil {
		return err
	}
	if c.ChallengeTTL <= 0 || c.AccessDuration <= 0 || c.ChainTimeout <= 0 {
		return invalid("durations must be positive")
	}

	if c.Upstream != "" {
		if u, err := url.Parse(c.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("%sUPSTREAM is not an absolute URL: %q", Prefix, c.Upstream)
		}
	}

	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return invalid("%sREDIS_URL must be set for the redis store", Prefix)
		}
	case StoreBolt:
		if c.BoltPath == "" {
			return invalid("%sBOLT_PATH must be set for the bolt store", Prefix)
		}
	default:
		return invalid("unknown store %q", c.Store)
	}
	return nil
}

// Price returns DefaultPrice as an integer amount.
func (c *Config) Price() (*big.Int, error) {
	price, ok := new(big.Int).SetString(strings.TrimSpace(c.DefaultPrice), 10)
	if !ok || price.Sign() < 0 {
		return nil, invalid("%sDEFAULT_PRICE is not a non-negative integer: %q", Prefix, c.DefaultPrice)
	}
	return price, nil
}
