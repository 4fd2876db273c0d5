// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const EnvPrefix = "FLM_ARB"

type Config struct {
	RPCURL       string  `mapstructure:"rpc_url"`
	Commitment   string  `mapstructure:"commitment"`
	FLMProgramID string  `mapstructure:"flm_program_id"`
	JupiterURL   string  `mapstructure:"jupiter_url"`
	JupiterRPS   float64 `mapstructure:"jupiter_rps"`
	SlippageBps  int     `mapstructure:"slippage_bps"`
	CacheDir     string  `mapstructure:"cache_dir"`
	Keypair      string  `mapstructure:"keypair"`
	PrivateKey   string  `mapstructure:"private_key"` // base58, overrides keypair

	ArbIntervalMs       int `mapstructure:"arb_interval_ms"`
	TableWarmupMs       int `mapstructure:"table_warmup_ms"`
	IxRetries           int `mapstructure:"ix_retries"`
	IxRetryDelayMs      int `mapstructure:"ix_retry_delay_ms"`
	CommandRetries      int `mapstructure:"command_retries"`
	CommandRetryDelayMs int `mapstructure:"command_retry_delay_ms"`
	ConfirmTimeoutMs    int `mapstructure:"confirm_timeout_ms"`

	SeedRounds     int    `mapstructure:"seed_rounds"`
	SeedIntervalMs int    `mapstructure:"seed_interval_ms"`
	SeedAmount     string `mapstructure:"seed_amount"`
	SeedTakeRoutes int    `mapstructure:"seed_take_routes"`

	SkipPreflight bool   `mapstructure:"skip_preflight"`
	DebugLogging  bool   `mapstructure:"debug_logging"`
	LogFile       string `mapstructure:"log_file"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	PostgresURL   string `mapstructure:"postgres_url"`

	// set by finalize
	ArbInterval       time.Duration   `mapstructure:"-"`
	TableWarmup       time.Duration   `mapstructure:"-"`
	IxRetryDelay      time.Duration   `mapstructure:"-"`
	CommandRetryDelay time.Duration   `mapstructure:"-"`
	ConfirmTimeout    time.Duration   `mapstructure:"-"`
	SeedInterval      time.Duration   `mapstructure:"-"`
	SeedAmountValue   decimal.Decimal `mapstructure:"-"`
}

const (
	DefaultRPCURL              = "https://api.devnet.solana.com"
	DefaultFLMProgramID        = "1oanfPPN8r1i4UbugXHDxWMbWVJ5qLSN5qzNFZkz6Fg"
	DefaultJupiterURL          = "https://quote-api.jup.ag/v6"
	DefaultJupiterRPS          = 5.0
	DefaultCommitment          = "confirmed"
	DefaultSlippageBps         = 50
	DefaultCacheDir            = ".cache"
	DefaultKeypair             = "~/.config/solana/id.json"
	DefaultArbIntervalMs       = 1000
	DefaultTableWarmupMs       = 1000
	DefaultIxRetries           = 5
	DefaultIxRetryDelayMs      = 1000
	DefaultCommandRetries      = 5
	DefaultCommandRetryDelayMs = 5000
	DefaultConfirmTimeoutMs    = 60_000
	DefaultSeedRounds          = 5
	DefaultSeedIntervalMs      = 10 * 60 * 1000
	DefaultSeedAmount          = "0.1"
	DefaultSeedTakeRoutes      = 10
	DefaultLogFile             = "logs/flashloan-arb.log"
)

var defaults = map[string]interface{}{
	"rpc_url":                DefaultRPCURL,
	"commitment":             DefaultCommitment,
	"flm_program_id":         DefaultFLMProgramID,
	"jupiter_url":            DefaultJupiterURL,
	"jupiter_rps":            DefaultJupiterRPS,
	"slippage_bps":           DefaultSlippageBps,
	"cache_dir":              DefaultCacheDir,
	"keypair":                DefaultKeypair,
	"private_key":            "",
	"arb_interval_ms":        DefaultArbIntervalMs,
	"table_warmup_ms":        DefaultTableWarmupMs,
	"ix_retries":             DefaultIxRetries,
	"ix_retry_delay_ms":      DefaultIxRetryDelayMs,
	"command_retries":        DefaultCommandRetries,
	"command_retry_delay_ms": DefaultCommandRetryDelayMs,
	"confirm_timeout_ms":     DefaultConfirmTimeoutMs,
	"seed_rounds":            DefaultSeedRounds,
	"seed_interval_ms":       DefaultSeedIntervalMs,
	"seed_amount":            DefaultSeedAmount,
	"seed_take_routes":       DefaultSeedTakeRoutes,
	"skip_preflight":         false,
	"debug_logging":          false,
	"log_file":               DefaultLogFile,
	"metrics_addr":           "",
	"postgres_url":           "",
}

// legacyEnv maps keys to the unprefixed variables older setups export.
var legacyEnv = map[string]string{
	"rpc_url":        "RPC_URI",
	"flm_program_id": "FLM_PROGRAM_ID",
	"private_key":    "PRIVATE_KEY",
}

// LoadConfig reads .env, the optional config file at path and the
// FLM_ARB_* environment, in increasing priority.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if err := bindEnvironment(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, validateConfig(&cfg)
}

func bindEnvironment(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(key)
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) finalize() error {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	c.ArbInterval = ms(c.ArbIntervalMs)
	c.TableWarmup = ms(c.TableWarmupMs)
	c.IxRetryDelay = ms(c.IxRetryDelayMs)
	c.CommandRetryDelay = ms(c.CommandRetryDelayMs)
	c.ConfirmTimeout = ms(c.ConfirmTimeoutMs)
	c.SeedInterval = ms(c.SeedIntervalMs)

	amount, err := decimal.NewFromString(strings.TrimSpace(c.SeedAmount))
	if err != nil {
		return fmt.Errorf("invalid seed_amount %q: %w", c.SeedAmount, err)
	}
	c.SeedAmountValue = amount
	return nil
}

// Network returns the cache namespace of the configured cluster.
func (c *Config) Network() string {
	if strings.Contains(c.RPCURL, "devnet") {
		return "devnet"
	}
	return "mainnet"
}

func validateConfig(cfg *Config) error {
	if err := validateURLWithCache(cfg.RPCURL, "http"); err != nil {
		return fmt.Errorf("invalid rpc_url: %w", err)
	}
	if err := validateURLWithCache(cfg.JupiterURL, "http"); err != nil {
		return fmt.Errorf("invalid jupiter_url: %w", err)
	}
	if cfg.PostgresURL != "" {
		if err := validateURLWithCache(cfg.PostgresURL, "postgres"); err != nil {
			return fmt.Errorf("invalid postgres_url: %w", err)
		}
	}
	if cfg.FLMProgramID == "" {
		return errors.New("missing flm_program_id")
	}
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid commitment %q", cfg.Commitment)
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.SlippageBps < 0 || cfg.SlippageBps > 10_000 {
		return errors.New("invalid slippage_bps")
	}
	if cfg.JupiterRPS <= 0 {
		return errors.New("invalid jupiter_rps")
	}
	if cfg.ArbIntervalMs <= 0 {
		return errors.New("arb_interval_ms must be positive")
	}
	if cfg.TableWarmupMs < 0 {
		return errors.New("invalid table_warmup_ms")
	}
	if cfg.IxRetries <= 0 || cfg.IxRetryDelayMs < 0 {
		return errors.New("invalid ix_retries")
	}
	if cfg.CommandRetries <= 0 || cfg.CommandRetryDelayMs < 0 {
		return errors.New("invalid command_retries")
	}
	if cfg.ConfirmTimeoutMs <= 0 {
		return errors.New("invalid confirm_timeout_ms")
	}
	if cfg.SeedRounds <= 0 || cfg.SeedTakeRoutes <= 0 || cfg.SeedIntervalMs < 0 {
		return errors.New("invalid seed parameters")
	}
	if !cfg.SeedAmountValue.IsPositive() {
		return errors.New("seed_amount must be positive")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	cacheKey := protocol + "|" + rawURL
	if _, ok := urlCache.Load(cacheKey); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(cacheKey, parsed)
	return nil
}
